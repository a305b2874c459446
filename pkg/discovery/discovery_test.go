package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/koron/go-ssdp"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rplisten/pkg/liberrors"
)

func TestParseLocation(t *testing.T) {
	for _, ca := range []struct {
		name     string
		location string
		host     string
	}{
		{
			"standard",
			"http://192.168.1.9:8060/",
			"192.168.1.9",
		},
		{
			"no port",
			"http://10.0.0.2/",
			"10.0.0.2",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			host, err := ParseLocation(ca.location)
			require.NoError(t, err)
			require.Equal(t, ca.host, host)
		})
	}
}

func TestParseLocationErrors(t *testing.T) {
	_, err := ParseLocation("")
	require.Equal(t, liberrors.ErrDiscoveryNoLocation{}, err)

	_, err = ParseLocation("nothing")
	require.EqualError(t, err, "invalid location: 'nothing'")
}

func TestDiscover(t *testing.T) {
	var searchType string
	var waitSec int

	d := &Discoverer{
		Timeout: 1500 * time.Millisecond,
		Search: func(st string, ws int, _ string) ([]ssdp.Service, error) {
			searchType = st
			waitSec = ws

			return []ssdp.Service{
				// other devices and responses without location are skipped
				{Type: "upnp:rootdevice", Location: "http://192.168.1.2:1400/"},
				{Type: "roku:ecp"},
				{Type: "roku:ecp", Location: "http://192.168.1.9:8060/", USN: "uuid:roku:ecp:P0A070000007"},
			}, nil
		},
	}
	host, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, "192.168.1.9", host)
	require.Equal(t, "roku:ecp", searchType)
	require.Equal(t, 2, waitSec)
}

func TestDiscoverNoDevice(t *testing.T) {
	d := &Discoverer{
		Search: func(string, int, string) ([]ssdp.Service, error) {
			return nil, nil
		},
	}
	_, err := d.Discover(context.Background())
	require.Equal(t, liberrors.ErrDiscoveryNoLocation{}, err)
}

func TestDiscoverSearchError(t *testing.T) {
	d := &Discoverer{
		Search: func(string, int, string) ([]ssdp.Service, error) {
			return nil, fmt.Errorf("no multicast interface")
		},
	}
	_, err := d.Discover(context.Background())
	require.EqualError(t, err, "no multicast interface")
}

func TestDiscoverCanceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	d := &Discoverer{
		Search: func(string, int, string) ([]ssdp.Service, error) {
			<-release
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := d.Discover(ctx)
	require.Equal(t, context.Canceled, err)
}
