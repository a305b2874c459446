package rplisten

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rplisten/internal/asyncprocessor"
	"github.com/bluenviron/rplisten/pkg/packetutils"
)

// loopbackForwarder relays a copy of every received datagram to the local player.
type loopbackForwarder struct {
	s      *Session
	logger logrus.FieldLogger

	pc        net.PacketConn
	writeAddr *net.UDPAddr
	processor *asyncprocessor.Processor
}

func (f *loopbackForwarder) initialize() error {
	var err error
	f.writeAddr, err = net.ResolveUDPAddr("udp4", f.s.LoopbackAddress)
	if err != nil {
		return err
	}

	f.pc, err = f.s.ListenPacket("udp4", f.s.LoopbackLocalAddress)
	if err != nil {
		return err
	}

	f.processor = &asyncprocessor.Processor{
		QueueSize: f.s.LoopbackQueueSize,
		OnError: func(_ context.Context, err error) {
			f.logger.WithError(err).Debug("unable to relay datagram")
		},
	}
	err = f.processor.Initialize()
	if err != nil {
		f.pc.Close()
		return err
	}

	f.processor.Start()

	return nil
}

func (f *loopbackForwarder) close() {
	f.processor.Close()
	f.pc.Close()

	if n := f.processor.Dropped(); n != 0 {
		f.logger.WithField("count", n).Warn("datagrams dropped by the loopback relay")
	}
}

// push enqueues a copy of buf.
func (f *loopbackForwarder) push(buf []byte) {
	cp := packetutils.Concat(nil, buf)

	f.processor.Push(func() error {
		_, err := f.pc.WriteTo(cp, f.writeAddr)
		return err
	})
}
