// Package sessionstate contains the shared state of a RTP session.
package sessionstate

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/rplisten/pkg/liberrors"
	"github.com/bluenviron/rplisten/pkg/source"
)

const (
	// minimum average time between RTCP packets.
	rtcpMinTime = 5 * time.Second

	// fraction of the RTCP bandwidth shared among active senders.
	rtcpSenderBandwidthFraction   = 0.25
	rtcpReceiverBandwidthFraction = 1 - rtcpSenderBandwidthFraction

	// fraction of the session bandwidth used by RTCP.
	rtcpBandwidthFraction = 0.05

	// maximum number of reception report blocks in a RTCP packet.
	maxReportBlocks = 31

	// UDP and IPv4 headers, counted in the average RTCP packet size.
	udpIPOverhead = 28
)

func randSSRC() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return (uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])) & 0x7FFFFFFF, nil
}

// State is the state of a RTP session, shared between the RTP receiver and the RTCP sender.
// All methods are safe for concurrent use.
type State struct {
	// Bandwidth available to the session, in bytes per second.
	Bandwidth float64

	// Negotiated payload type.
	// It defaults to 97.
	PayloadType uint8

	// Clock rate of the stream, used to compute jitter.
	// It defaults to 48000.
	ClockRate int

	// Local SSRC.
	// It defaults to a random 31-bit value.
	SelfSSRC *uint32

	// time.Now function.
	TimeNow func() time.Time

	// function returning a random value in [0, 1).
	// It defaults to math/rand.Float64.
	RandFloat64 func() float64

	mutex sync.Mutex

	selfSSRC        uint32
	payloadType     uint8
	members         map[uint32]*source.Source
	rtcpBandwidth   float64
	lastRTCPSentAt  time.Time
	nextScheduledAt time.Time
	td              time.Duration
	t               time.Duration
	pmembers        int
	weSent          bool
	avgRTCPSize     float64
	initial         bool
	byeRequested    bool
	rtcpSent        bool
	rtpActivity     bool
}

// Initialize initializes State.
func (s *State) Initialize() error {
	if s.Bandwidth <= 0 {
		return liberrors.ErrSessionInvalidBandwidth{Bandwidth: s.Bandwidth}
	}

	if s.PayloadType == 0 {
		s.PayloadType = 97
	}
	if s.ClockRate == 0 {
		s.ClockRate = 48000
	}
	if s.TimeNow == nil {
		s.TimeNow = time.Now
	}
	if s.RandFloat64 == nil {
		s.RandFloat64 = mrand.Float64
	}

	if s.SelfSSRC == nil {
		v, err := randSSRC()
		if err != nil {
			return fmt.Errorf("unable to generate SSRC: %w", err)
		}
		s.selfSSRC = v
	} else {
		s.selfSSRC = *s.SelfSSRC
	}

	now := s.TimeNow()

	s.payloadType = s.PayloadType
	s.members = make(map[uint32]*source.Source)
	s.members[s.selfSSRC] = source.New(s.selfSSRC, s.ClockRate, now)
	s.rtcpBandwidth = rtcpBandwidthFraction * s.Bandwidth
	s.lastRTCPSentAt = now
	s.pmembers = 1
	s.weSent = true
	s.initial = true

	// next transmission time starts at the (still zero) interval
	s.nextScheduledAt = now.Add(s.t)

	return nil
}

// SSRC returns the local SSRC.
func (s *State) SSRC() uint32 {
	return s.selfSSRC
}

// SetPayloadType sets the negotiated payload type.
func (s *State) SetPayloadType(pt uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.payloadType = pt
}

// GetPayloadType returns the negotiated payload type.
func (s *State) GetPayloadType() uint8 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.payloadType
}

func (s *State) getOrCreate(ssrc uint32) *source.Source {
	src, ok := s.members[ssrc]
	if !ok {
		src = source.New(ssrc, s.ClockRate, s.TimeNow())
		s.members[ssrc] = src
	}
	return src
}

// GetOrCreateMember returns a copy of the member with the given SSRC,
// adding it to the member table if it does not exist yet.
func (s *State) GetOrCreateMember(ssrc uint32) source.Source {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return *s.getOrCreate(ssrc)
}

// Member returns a copy of the member with the given SSRC.
func (s *State) Member(ssrc uint32) (source.Source, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	src, ok := s.members[ssrc]
	if !ok {
		return source.Source{}, false
	}
	return *src, true
}

// MemberSSRCs returns the SSRCs of all members, sorted.
func (s *State) MemberSSRCs() []uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.sortedSSRCs()
}

func (s *State) sortedSSRCs() []uint32 {
	ret := make([]uint32, 0, len(s.members))
	for ssrc := range s.members {
		ret = append(ret, ssrc)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// MemberCount returns the number of members, self included.
func (s *State) MemberCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.members)
}

// SenderCount returns the number of active senders.
func (s *State) SenderCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.senderCount()
}

func (s *State) senderCount() int {
	n := 0
	for _, src := range s.members {
		if src.ActiveSender {
			n++
		}
	}
	return n
}

// RemoveMember removes a member. Self cannot be removed.
func (s *State) RemoveMember(ssrc uint32) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.remove(ssrc)
}

func (s *State) remove(ssrc uint32) bool {
	if ssrc == s.selfSSRC {
		return false
	}
	if _, ok := s.members[ssrc]; !ok {
		return false
	}
	delete(s.members, ssrc)
	return true
}

// RemoveAllMembers removes all members except self,
// resets the membership estimate and recomputes the interval.
// It returns the number of removed members.
func (s *State) RemoveAllMembers() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.removeAll()
}

func (s *State) removeAll() int {
	n := 0
	for ssrc := range s.members {
		if s.remove(ssrc) {
			n++
		}
	}

	s.pmembers = 1
	s.calculateInterval()

	return n
}

// ProcessRTP updates the member table with a valid RTP packet.
// dur is the playback duration of the payload.
func (s *State) ProcessRTP(pkt *rtp.Packet, dur time.Duration, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	src := s.getOrCreate(pkt.SSRC)
	src.ProcessRTP(pkt.SequenceNumber, pkt.Timestamp, now)
	src.ReceivedDuration += dur

	s.rtpActivity = true
}

// ProcessRTCP updates the member table with RTCP packets received from the remote party.
func (s *State) ProcessRTCP(pkts []rtcp.Packet, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, pkt := range pkts {
		switch pkt := pkt.(type) {
		case *rtcp.SenderReport:
			if pkt.SSRC != s.selfSSRC {
				s.getOrCreate(pkt.SSRC).ProcessSenderReport(pkt, now)
			}

		case *rtcp.ReceiverReport:
			if pkt.SSRC != s.selfSSRC {
				s.getOrCreate(pkt.SSRC).LastRTCPArrival = now
			}

		case *rtcp.Goodbye:
			for _, ssrc := range pkt.Sources {
				s.remove(ssrc)
			}
		}
	}
}

// CalculateInterval computes the deterministic and the randomized RTCP transmission intervals
// and returns the deterministic one.
// Specification: RFC3550, appendix A.7
func (s *State) CalculateInterval() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calculateInterval()
}

func (s *State) calculateInterval() time.Duration {
	members := len(s.members)
	senders := s.senderCount()

	minTime := rtcpMinTime.Seconds()

	// the first call uses half the minimum delay for quicker notification
	if s.initial {
		minTime /= 2
		s.initial = false
	}

	n := float64(members)
	bw := s.rtcpBandwidth

	// if there are active senders, give them at least a minimum share
	// of the RTCP bandwidth.
	if senders > 0 && float64(senders) < float64(members)*rtcpSenderBandwidthFraction {
		if s.members[s.selfSSRC].ActiveSender {
			bw *= rtcpSenderBandwidthFraction
			n = float64(senders)
		} else {
			bw *= rtcpReceiverBandwidthFraction
			n -= float64(senders)
		}
	}

	t := s.avgRTCPSize * n / bw
	if t < minTime {
		t = minTime
	}

	// randomize in [0.5*t, 1.5*t) to avoid synchronization with other members
	noise := s.RandFloat64() + 0.5

	s.td = time.Duration(t * float64(time.Second))
	s.t = time.Duration(t * noise * float64(time.Second))

	return s.td
}

// Intervals returns the last deterministic and randomized intervals.
func (s *State) Intervals() (time.Duration, time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.td, s.t
}

// ReceptionReports returns reception report blocks about remote members that sent RTP packets
// after the last RTCP transmission. Statistics of included members are updated.
func (s *State) ReceptionReports(now time.Time) []rtcp.ReceptionReport {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var ret []rtcp.ReceptionReport

	for _, ssrc := range s.sortedSSRCs() {
		if len(ret) == maxReportBlocks {
			break
		}

		src := s.members[ssrc]
		if ssrc == s.selfSSRC || !src.LastRTPArrival.After(s.lastRTCPSentAt) {
			continue
		}

		ret = append(ret, src.ReceptionReport(now))
	}

	return ret
}

// OnRTCPSent performs bookkeeping after a RTCP packet of the given size has been sent.
func (s *State) OnRTCPSent(size int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.rtcpSent = true

	// https://tools.ietf.org/html/rfc3550#section-6.3.3
	s.avgRTCPSize = float64(size+udpIPOverhead)/16 + s.avgRTCPSize*15/16
}

// AvgRTCPSize returns the average size of sent RTCP packets.
func (s *State) AvgRTCPSize() float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.avgRTCPSize
}

// LastRTCPSentAt returns the time of the last RTCP transmission.
func (s *State) LastRTCPSentAt() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastRTCPSentAt
}

// SetLastRTCPSentAt sets the time of the last RTCP transmission.
func (s *State) SetLastRTCPSentAt(t time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastRTCPSentAt = t
}

// RequestBye marks that the session is leaving.
func (s *State) RequestBye() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.byeRequested = true
}

// ByeRequested checks whether the session is leaving.
func (s *State) ByeRequested() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.byeRequested
}

// HasSentAnything checks whether the session took part in both RTCP and RTP traffic.
// A session that did not must not send a BYE.
func (s *State) HasSentAnything() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.rtcpSent && s.rtpActivity
}

// Leave removes all other members, marks self as inactive and
// sets the time of the last RTCP transmission to now.
func (s *State) Leave(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.removeAll()
	s.members[s.selfSSRC].ActiveSender = false
	s.lastRTCPSentAt = now
}

// Reschedule stores the next scheduled transmission time and the membership estimate.
func (s *State) Reschedule(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextScheduledAt = now.Add(s.t)
	s.pmembers = len(s.members)
}

// NextScheduledAt returns the next scheduled transmission time.
func (s *State) NextScheduledAt() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.nextScheduledAt
}

// EstimatedMembers returns the number of members at the time of the last computation.
func (s *State) EstimatedMembers() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.pmembers
}

// WeSent returns whether the application sent data since the second previous report.
func (s *State) WeSent() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.weSent
}
