package rplisten

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/opus"
	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rplisten/pkg/liberrors"
	"github.com/bluenviron/rplisten/pkg/packetutils"
)

func opusDuration(payload []byte) time.Duration {
	// frame count code 3 needs a second byte
	if len(payload) == 0 || (payload[0]&0x03 == 3 && len(payload) < 2) {
		return 0
	}
	return time.Duration(int64(opus.PacketDuration2(payload))) * time.Second / opusSampleRate
}

type rtpReceiver struct {
	s      *Session
	pc     net.PacketConn
	logger logrus.FieldLogger

	done chan struct{}
}

func (r *rtpReceiver) start() {
	r.pc.SetReadDeadline(time.Time{}) //nolint:errcheck
	r.done = make(chan struct{})
	go r.run()
}

// stop interrupts the blocking read and waits for the routine to exit, up to timeout.
func (r *rtpReceiver) stop(timeout time.Duration) bool {
	r.pc.SetReadDeadline(time.Now()) //nolint:errcheck

	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *rtpReceiver) run() {
	defer close(r.done)

	buf := make([]byte, r.s.ReadBufferSize)

	for {
		n, _, err := r.pc.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				r.logger.WithError(err).Warn("RTP receiver terminated")
			}
			return
		}

		r.processDatagram(buf[:n], r.s.TimeNow())
	}
}

func (r *rtpReceiver) processDatagram(buf []byte, now time.Time) {
	// the buffer is reused by the next read; the forwarder copies it.
	r.s.forwarder.push(buf)

	if packetutils.IsRTCP(buf) {
		r.processRTCP(buf, now)
		return
	}

	pkt, err := packetutils.DecodeRTPPacket(buf)
	if err != nil {
		r.logger.WithError(err).Debug("invalid RTP packet")
		return
	}

	expected := r.s.state.GetPayloadType()
	if pkt.PayloadType != expected {
		r.logger.WithError(liberrors.ErrUnexpectedPayloadType{
			Expected: expected,
			Value:    pkt.PayloadType,
		}).Debug("RTP packet discarded")
		return
	}

	r.s.state.ProcessRTP(pkt, opusDuration(pkt.Payload), now)

	r.s.startRTCPSender()
}

func (r *rtpReceiver) processRTCP(buf []byte, now time.Time) {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		r.logger.WithError(err).Debug("invalid RTCP packet")
		return
	}

	r.s.state.ProcessRTCP(pkts, now)
}
