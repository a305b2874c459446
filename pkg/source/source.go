// Package source contains the reception statistics of a RTP synchronization source.
package source

import (
	"time"

	"github.com/pion/rtcp"
)

const (
	// SequenceCycle is added to the cycle count every time the sequence number wraps.
	SequenceCycle = 0xFFFFFFFF

	// a drop greater than half of the sequence number space is a wrap.
	wrapThreshold = 0.5 * 0xFFFF

	// cumulative number of packets lost is a 24-bit field.
	maxLost = 0xFFFFFF
)

// Source holds the state of a synchronization source, local or remote.
// It is not safe for concurrent use; it is owned by the session member table.
type Source struct {
	SSRC         uint32
	ActiveSender bool

	// RTP clock rate, used to compute jitter.
	// When zero, jitter is not computed.
	ClockRate int

	// sequence tracking
	MaxSeq          uint16
	Cycles          uint64
	BaseSeq         uint16
	PacketsReceived uint32

	// loss accounting
	LastSeq       uint64
	Expected      int64
	ExpectedPrior int64
	ReceivedPrior int64
	Lost          uint32
	FractionLost  uint8
	Jitter        float64

	// timing
	LastRTPArrival   time.Time
	LastRTCPArrival  time.Time
	LastSRReceived   time.Time
	LastSRTimestamp  uint32
	DelaySinceLastSR float64

	// total duration of the payloads received
	ReceivedDuration time.Duration

	lastRTPTimestamp uint32
	timestampKnown   bool
	srReceived       bool
}

// New allocates a Source. All timestamps are set to now.
func New(ssrc uint32, clockRate int, now time.Time) *Source {
	return &Source{
		SSRC:            ssrc,
		ClockRate:       clockRate,
		LastRTPArrival:  now,
		LastRTCPArrival: now,
		LastSRReceived:  now,
	}
}

// ExtendedMax returns the highest sequence number received, extended with cycles.
func (s *Source) ExtendedMax() uint64 {
	return s.Cycles + uint64(s.MaxSeq)
}

// UpdateSequence updates the highest sequence number and detects wraps.
func (s *Source) UpdateSequence(seq uint16) {
	if s.MaxSeq == 0 {
		s.MaxSeq = seq
		return
	}

	if float64(s.MaxSeq)-float64(seq) > wrapThreshold {
		s.Cycles += SequenceCycle
	}

	s.MaxSeq = seq
}

// ProcessRTP updates the source with a RTP packet received at now.
func (s *Source) ProcessRTP(seq uint16, timestamp uint32, now time.Time) {
	s.ActiveSender = true

	if s.timestampKnown && s.ClockRate != 0 {
		// https://tools.ietf.org/html/rfc3550#appendix-A.8
		d := now.Sub(s.LastRTPArrival).Seconds()*float64(s.ClockRate) -
			(float64(timestamp) - float64(s.lastRTPTimestamp))
		if d < 0 {
			d = -d
		}
		s.Jitter += (d - s.Jitter) / 16
	}

	s.LastRTPArrival = now
	s.lastRTPTimestamp = timestamp
	s.timestampKnown = true

	s.UpdateSequence(seq)

	if s.PacketsReceived == 0 {
		s.BaseSeq = seq
	}

	s.PacketsReceived++
}

// ProcessSenderReport updates the source with a RTCP sender report received at now.
func (s *Source) ProcessSenderReport(sr *rtcp.SenderReport, now time.Time) {
	s.srReceived = true
	s.LastRTCPArrival = now
	s.LastSRReceived = now

	// middle 32 bits out of 64 in the NTP timestamp
	s.LastSRTimestamp = uint32(sr.NTPTime >> 16)
}

// UpdateStatistics computes loss statistics from data gathered since the previous call.
// It must be called right before the source is included in a reception report.
func (s *Source) UpdateStatistics(now time.Time) {
	s.LastSeq = s.ExtendedMax()

	s.Expected = int64(s.ExtendedMax()) - int64(s.BaseSeq) + 1

	lost := s.Expected - int64(s.PacketsReceived)
	switch {
	case lost > maxLost:
		s.Lost = maxLost
	case lost < 0:
		s.Lost = 0
	default:
		s.Lost = uint32(lost)
	}

	expectedInterval := s.Expected - s.ExpectedPrior
	s.ExpectedPrior = s.Expected

	receivedInterval := int64(s.PacketsReceived) - s.ReceivedPrior
	s.ReceivedPrior = int64(s.PacketsReceived)

	lostInterval := expectedInterval - receivedInterval

	if expectedInterval == 0 || lostInterval <= 0 {
		s.FractionLost = 0
	} else {
		fraction := (lostInterval << 8) / expectedInterval
		if fraction > 255 {
			fraction = 255
		}
		s.FractionLost = uint8(fraction)
	}

	// units of 1/65536 seconds, computed from millisecond clocks
	s.DelaySinceLastSR = float64(s.LastSRReceived.UnixMilli()-now.UnixMilli()) / 65536
}

// ReceptionReport updates statistics and returns a reception report block about the source.
func (s *Source) ReceptionReport(now time.Time) rtcp.ReceptionReport {
	s.UpdateStatistics(now)

	rr := rtcp.ReceptionReport{
		SSRC:               s.SSRC,
		FractionLost:       s.FractionLost,
		TotalLost:          s.Lost,
		LastSequenceNumber: uint32(s.LastSeq),
		Jitter:             uint32(s.Jitter),
	}

	if s.srReceived {
		rr.LastSenderReport = s.LastSRTimestamp

		// delay, expressed in units of 1/65536 seconds, between
		// receiving the last SR packet and sending this block
		rr.Delay = uint32(now.Sub(s.LastSRReceived).Seconds() * 65536)
	}

	return rr
}
