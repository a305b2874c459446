// Package main contains the rplisten command.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rplisten"
	"github.com/bluenviron/rplisten/internal/player"
	"github.com/bluenviron/rplisten/pkg/description"
	"github.com/bluenviron/rplisten/pkg/discovery"
	"github.com/bluenviron/rplisten/pkg/ecp"
)

// localAddressFor returns the local address used to reach host.
// No packet is sent.
func localAddressFor(host string) (string, error) {
	conn, err := net.Dial("udp4", net.JoinHostPort(host, strconv.FormatInt(ecp.DefaultPort, 10)))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func waitLine(r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		bufio.NewReader(r).ReadString('\n') //nolint:errcheck
		close(ch)
	}()
	return ch
}

// notify returns a function that signals ch without blocking.
// ch must be buffered; signals that find it full are merged.
func notify(ch chan<- struct{}) func() {
	return func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

type program struct {
	deviceIP string
	stdin    io.Reader
	stdout   io.Writer
	logger   *logrus.Logger

	session *rplisten.Session
	player  *player.Player
}

func (p *program) startSession(localHost string) error {
	p.session = &rplisten.Session{
		RemoteHost:  p.deviceIP,
		LocalHost:   localHost,
		RTPPort:     rplisten.DefaultRTPPort,
		RTCPPort:    rplisten.DefaultRTCPPort,
		RTPOutPort:  rplisten.DefaultRTPOutboundPort,
		RTCPOutPort: rplisten.DefaultRTPPort,
		Bandwidth:   rplisten.DefaultBandwidth,
		Logger:      p.logger,
	}
	err := p.session.Initialize()
	if err != nil {
		p.session = nil
		return err
	}

	p.session.SetPayloadType(rplisten.DefaultPayloadType)

	err = p.session.Start()
	if err != nil {
		p.session = nil
		return err
	}

	loopback, err := net.ResolveUDPAddr("udp4", rplisten.DefaultLoopbackAddress)
	if err != nil {
		return err
	}

	sdp, err := description.Session{
		Address:     loopback.IP.String(),
		Port:        loopback.Port,
		PayloadType: rplisten.DefaultPayloadType,
		Codec:       "opus",
		ClockRate:   48000,
		Channels:    2,
	}.Marshal()
	if err != nil {
		return err
	}

	p.player = &player.Player{
		Description: sdp,
		Logger:      p.logger,
	}
	err = p.player.Start()
	if err != nil {
		p.player = nil
		p.logger.WithError(err).Warn("unable to start the player")
	}

	return nil
}

func (p *program) closeSession() {
	if p.session != nil {
		p.session.StopRTCPSender()
		p.session.StopRTPReceiver()
	}

	if p.player != nil {
		p.player.Close()
	}
}

func (p *program) run(ctx context.Context) {
	localHost, err := localAddressFor(p.deviceIP)
	if err != nil {
		fmt.Fprintln(p.stdout, "Unable to determine localhost IP address. Exiting...")
		return
	}

	outputSet := make(chan struct{}, 1)

	c := &ecp.Client{
		Address:          p.deviceIP,
		AudioOutput:      net.JoinHostPort(localHost, strconv.FormatInt(rplisten.DefaultRTPPort, 10)),
		Logger:           p.logger,
		OnAudioOutputSet: notify(outputSet),
	}
	err = c.Initialize(ctx)
	if err != nil {
		fmt.Fprintf(p.stdout, "Unable to connect to %s: %v\n", p.deviceIP, err)
		return
	}
	defer c.Close()

	fmt.Fprintln(p.stdout, "Use ctrl^c to exit...")

	line := waitLine(p.stdin)

	for {
		select {
		case <-outputSet:
			if p.session != nil {
				continue
			}

			err = p.startSession(localHost)
			if err != nil {
				fmt.Fprintf(p.stdout, "Unable to start the session: %v\n", err)
				p.closeSession()
				return
			}

		case <-c.Done():
			if err := c.Wait(); err != nil {
				fmt.Fprintf(p.stdout, "Connection terminated: %v\n", err)
			}
			p.closeSession()
			return

		case <-line:
			p.closeSession()
			return

		case <-ctx.Done():
			p.closeSession()
			return
		}
	}
}

func discover(ctx context.Context, stdout io.Writer) {
	host, err := (&discovery.Discoverer{}).Discover(ctx)
	if err != nil {
		fmt.Fprintf(stdout, "No device found: %v\n", err)
		return
	}
	fmt.Fprintln(stdout, host)
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	flags := flag.NewFlagSet("rplisten", flag.ContinueOnError)
	flags.SetOutput(stdout)
	deviceIP := flags.String("i", "", "IP address of the device")
	discoverDevices := flags.Bool("d", false, "discover devices and print them")
	verbose := flags.Bool("v", false, "print logs")

	err := flags.Parse(args)
	if err != nil {
		return 0
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *discoverDevices:
		discover(ctx, stdout)

	case *deviceIP != "":
		(&program{
			deviceIP: *deviceIP,
			stdin:    stdin,
			stdout:   stdout,
			logger:   logger,
		}).run(ctx)
	}

	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}
