package source

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2008, 0o5, 20, 22, 15, 20, 0, time.UTC)

func TestUpdateSequenceIncreasing(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	for _, seq := range []uint16{1, 2, 3, 100, 1000, 65000} {
		s.UpdateSequence(seq)
		require.Equal(t, uint64(seq), s.ExtendedMax())
	}
	require.Equal(t, uint64(0), s.Cycles)
}

func TestUpdateSequenceWrap(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	s.UpdateSequence(65530)
	s.UpdateSequence(5)
	require.Equal(t, uint64(SequenceCycle), s.Cycles)
	require.Equal(t, uint64(SequenceCycle)+5, s.ExtendedMax())

	s.UpdateSequence(6)
	require.Equal(t, uint64(SequenceCycle), s.Cycles)
}

func TestUpdateSequenceReordered(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	s.UpdateSequence(100)
	s.UpdateSequence(99)
	require.Equal(t, uint64(0), s.Cycles)
	require.Equal(t, uint64(99), s.ExtendedMax())
}

func TestProcessRTP(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	s.ProcessRTP(100, 1000, testTime.Add(time.Second))
	require.True(t, s.ActiveSender)
	require.Equal(t, uint16(100), s.BaseSeq)
	require.Equal(t, uint32(1), s.PacketsReceived)
	require.Equal(t, testTime.Add(time.Second), s.LastRTPArrival)

	s.ProcessRTP(101, 1960, testTime.Add(time.Second+20*time.Millisecond))
	require.Equal(t, uint16(100), s.BaseSeq)
	require.Equal(t, uint32(2), s.PacketsReceived)
	require.InDelta(t, 0, s.Jitter, 0.001)
}

func TestJitter(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	s.ProcessRTP(1, 0, testTime)
	// 20ms late compared to the RTP timestamp
	s.ProcessRTP(2, 960, testTime.Add(40*time.Millisecond))
	require.InDelta(t, 960.0/16, s.Jitter, 0.001)
}

func TestUpdateStatisticsNoLoss(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	for seq := uint16(100); seq < 110; seq++ {
		s.ProcessRTP(seq, uint32(seq)*960, testTime)
	}

	s.UpdateStatistics(testTime)
	require.Equal(t, uint64(109), s.LastSeq)
	require.Equal(t, int64(10), s.Expected)
	require.Equal(t, uint32(0), s.Lost)
	require.Equal(t, uint8(0), s.FractionLost)
	require.Equal(t, int64(10), s.ExpectedPrior)
	require.Equal(t, int64(10), s.ReceivedPrior)
}

func TestUpdateStatisticsLoss(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	// 4 packets out of 8 are lost
	for _, seq := range []uint16{100, 102, 104, 107} {
		s.ProcessRTP(seq, uint32(seq)*960, testTime)
	}

	s.UpdateStatistics(testTime)
	require.Equal(t, int64(8), s.Expected)
	require.Equal(t, uint32(4), s.Lost)
	require.Equal(t, uint8(128), s.FractionLost)

	// no new packets: interval is empty
	s.UpdateStatistics(testTime)
	require.Equal(t, uint32(4), s.Lost)
	require.Equal(t, uint8(0), s.FractionLost)

	// 2 out of 4 lost in the second interval
	s.ProcessRTP(109, 109*960, testTime)
	s.ProcessRTP(111, 111*960, testTime)
	s.UpdateStatistics(testTime)
	require.Equal(t, int64(12), s.Expected)
	require.Equal(t, uint32(6), s.Lost)
	require.Equal(t, uint8(128), s.FractionLost)
}

func TestUpdateStatisticsLostClamp(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	s.ProcessRTP(65530, 0, testTime)
	s.ProcessRTP(5, 960, testTime)

	s.UpdateStatistics(testTime)
	require.Equal(t, uint32(0xFFFFFF), s.Lost)
}

func TestUpdateStatisticsDelaySinceLastSR(t *testing.T) {
	s := New(0xaabbccdd, 48000, testTime)

	s.UpdateStatistics(testTime.Add(65536 * time.Millisecond))
	require.Equal(t, float64(-1), s.DelaySinceLastSR)
}

func TestReceptionReport(t *testing.T) {
	s := New(0xba9da416, 48000, testTime)

	s.ProcessSenderReport(&rtcp.SenderReport{
		SSRC:    0xba9da416,
		NTPTime: 0xe363887a17ced916,
	}, testTime)

	s.ProcessRTP(946, 0xafb45733, testTime)
	s.ProcessRTP(947, 0xafb45733+48000, testTime.Add(time.Second))

	rr := s.ReceptionReport(testTime.Add(2 * time.Second))
	require.Equal(t, rtcp.ReceptionReport{
		SSRC:               0xba9da416,
		LastSequenceNumber: 947,
		LastSenderReport:   0x887a17ce,
		Delay:              2 * 65536,
	}, rr)
}

func TestReceptionReportWithoutSenderReport(t *testing.T) {
	s := New(0xba9da416, 48000, testTime)

	s.ProcessRTP(1, 0, testTime)

	rr := s.ReceptionReport(testTime.Add(time.Second))
	require.Equal(t, uint32(0), rr.LastSenderReport)
	require.Equal(t, uint32(0), rr.Delay)
}

func TestReceptionReportAfterWrap(t *testing.T) {
	s := New(0xaabbccdd, 0, testTime)

	for _, seq := range []uint16{65530, 65531, 65532, 65533, 65534, 65535, 0, 1} {
		s.ProcessRTP(seq, 0, testTime)
	}

	// each wrap adds 0xFFFFFFFF, the extended sequence number is 0x100000000
	// and its low 32 bits are zero.
	require.Equal(t, uint64(0x100000000), s.ExtendedMax())

	rr := s.ReceptionReport(testTime)
	require.Equal(t, uint32(0), rr.LastSequenceNumber)
	require.Equal(t, uint32(0xFFFFFF), rr.TotalLost)
	require.Equal(t, uint8(255), rr.FractionLost)
}
