// Package discovery contains a SSDP-based device discovery.
package discovery

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/koron/go-ssdp"

	"github.com/bluenviron/rplisten/pkg/liberrors"
)

// SearchTarget is the search target devices answer to.
const SearchTarget = "roku:ecp"

// ParseLocation returns the host of the Location of a search response.
func ParseLocation(location string) (string, error) {
	if location == "" {
		return "", liberrors.ErrDiscoveryNoLocation{}
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid location: %w", err)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid location: '%s'", location)
	}

	return u.Hostname(), nil
}

func defaultSearch(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error) {
	return ssdp.Search(searchType, waitSec, localAddr)
}

// Discoverer finds a device in the local network.
type Discoverer struct {
	// local address used to search.
	// It defaults to all interfaces.
	LocalAddress string

	// time to wait for responses, rounded up to seconds.
	// It defaults to 5 seconds.
	Timeout time.Duration

	// function used to search.
	// It defaults to ssdp.Search.
	Search func(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error)
}

type searchRes struct {
	services []ssdp.Service
	err      error
}

// Discover searches devices and returns the host of the first one that answered.
func (d *Discoverer) Discover(ctx context.Context) (string, error) {
	if d.Timeout == 0 {
		d.Timeout = 5 * time.Second
	}
	if d.Search == nil {
		d.Search = defaultSearch
	}

	waitSec := int(math.Ceil(d.Timeout.Seconds()))
	if waitSec < 1 {
		waitSec = 1
	}

	// the search is not cancellable, its result is discarded when ctx is done.
	resc := make(chan searchRes, 1)
	go func() {
		services, err := d.Search(SearchTarget, waitSec, d.LocalAddress)
		resc <- searchRes{services, err}
	}()

	var res searchRes
	select {
	case res = <-resc:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if res.err != nil {
		return "", res.err
	}

	for _, srv := range res.services {
		if srv.Type != "" && srv.Type != SearchTarget {
			continue
		}

		host, err := ParseLocation(srv.Location)
		if err == nil {
			return host, nil
		}
	}

	return "", liberrors.ErrDiscoveryNoLocation{}
}
