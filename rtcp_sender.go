package rplisten

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rplisten/pkg/rtcpcompound"
	"github.com/bluenviron/rplisten/pkg/sessionstate"
)

// rtcpSender periodically sends RTCP packets to the device.
// Specification: RFC3550, section 6.3
type rtcpSender struct {
	state     *sessionstate.State
	pc        net.PacketConn
	writeAddr *net.UDPAddr
	legacy    bool
	timeNow   func() time.Time
	logger    logrus.FieldLogger

	appSent   bool
	ctx       context.Context
	ctxCancel func()

	done chan struct{}
}

func (rs *rtcpSender) start() {
	rs.ctx, rs.ctxCancel = context.WithCancel(context.Background())
	rs.done = make(chan struct{})
	go rs.run()
}

// stop interrupts the sender, that sends a goodbye if needed,
// and waits for it to exit, up to timeout.
func (rs *rtcpSender) stop(timeout time.Duration) bool {
	rs.ctxCancel()

	select {
	case <-rs.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// sleep returns false if the sender has been interrupted.
func (rs *rtcpSender) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-rs.ctx.Done():
		return false
	}
}

func (rs *rtcpSender) run() {
	defer close(rs.done)

	byeBackoff := false

	for {
		if !rs.appSent {
			rs.sendApps()
			rs.sendReport(rs.timeNow(), false)
			rs.appSent = true
		}

		rs.state.CalculateInterval()
		_, t := rs.state.Intervals()

		// once a goodbye is pending, the remaining passes do not wait.
		if !rs.state.ByeRequested() && !rs.sleep(t) {
			byeBackoff = true
			rs.state.RequestBye()
		}

		now := rs.timeNow()

		if rs.state.ByeRequested() || !now.Before(rs.state.LastRTCPSentAt().Add(t)) {
			if rs.state.ByeRequested() && byeBackoff {
				if !rs.state.HasSentAnything() {
					rs.logger.Debug("RTCP sender stopped, nothing to say goodbye to")
					return
				}

				// Specification: RFC3550, section 6.3.7
				rs.state.Leave(now)
			} else {
				bye := rs.state.ByeRequested()
				rs.sendReport(now, bye)

				if bye {
					rs.logger.Debug("RTCP sender stopped")
					return
				}

				rs.state.SetLastRTCPSentAt(now)
			}
		}

		byeBackoff = false
		rs.state.Reschedule(now)
	}
}

func (rs *rtcpSender) sendApps() {
	for _, assemble := range []func() ([]byte, error){
		rtcpcompound.VDLY,
		rtcpcompound.CVER,
	} {
		buf, err := assemble()
		if err != nil {
			rs.logger.WithError(err).Warn("unable to assemble app packet")
			continue
		}
		rs.send(buf)
	}
}

func (rs *rtcpSender) assembleReport(now time.Time, bye bool) ([]byte, error) {
	if rs.legacy {
		return rtcpcompound.LegacyReceiverReport(), nil
	}

	reports := rs.state.ReceptionReports(now)

	if bye {
		return rtcpcompound.ReceiverReportWithGoodbye(rs.state.SSRC(), reports)
	}
	return rtcpcompound.ReceiverReport(rs.state.SSRC(), reports)
}

func (rs *rtcpSender) sendReport(now time.Time, bye bool) {
	buf, err := rs.assembleReport(now, bye)
	if err != nil {
		rs.logger.WithError(err).Warn("unable to assemble receiver report")
		return
	}
	rs.send(buf)
}

func (rs *rtcpSender) send(buf []byte) {
	_, err := rs.pc.WriteTo(buf, rs.writeAddr)
	if err != nil {
		rs.logger.WithError(err).Warn("unable to send RTCP packet")
		return
	}

	rs.state.OnRTCPSent(len(buf))
}
