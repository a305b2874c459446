// Package packetutils contains functions to encode and decode RTP and RTCP fields.
package packetutils

import (
	"github.com/pion/rtp"

	"github.com/bluenviron/rplisten/pkg/liberrors"
)

const (
	// RTPHeaderSize is the size of the fixed RTP header.
	RTPHeaderSize = 12

	rtpVersion = 2
)

// BigEndianBytes returns the lowest width bytes of v, most significant first.
func BigEndianBytes(v uint64, width int) []byte {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

// Concat returns a new slice containing a followed by b.
func Concat(a []byte, b []byte) []byte {
	ret := make([]byte, len(a)+len(b))
	n := copy(ret, a)
	copy(ret[n:], b)
	return ret
}

// Header is the fixed part of a RTP header.
type Header struct {
	Version        uint8
	Padding        bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// DecodeRTPHeader decodes the fixed 12-byte header of a RTP packet.
// Specification: RFC3550, section 5.1
func DecodeRTPHeader(buf []byte) (*Header, error) {
	if len(buf) < RTPHeaderSize {
		return nil, liberrors.ErrPacketTooShort{Length: len(buf)}
	}

	if v := buf[0] >> 6; v != rtpVersion {
		return nil, liberrors.ErrInvalidRTPVersion{Version: v}
	}

	var h rtp.Header
	_, err := h.Unmarshal(buf)
	if err != nil {
		return nil, err
	}

	return &Header{
		Version:        h.Version,
		Padding:        h.Padding,
		Marker:         h.Marker,
		PayloadType:    h.PayloadType,
		SequenceNumber: h.SequenceNumber,
		Timestamp:      h.Timestamp,
		SSRC:           h.SSRC,
	}, nil
}

// Payload returns the bytes that follow the fixed RTP header.
func Payload(buf []byte) []byte {
	if len(buf) <= RTPHeaderSize {
		return nil
	}
	return buf[RTPHeaderSize:]
}

// DecodeRTPPacket decodes a whole RTP packet, including CSRCs and extensions,
// and checks its version.
func DecodeRTPPacket(buf []byte) (*rtp.Packet, error) {
	if len(buf) < RTPHeaderSize {
		return nil, liberrors.ErrPacketTooShort{Length: len(buf)}
	}

	if v := buf[0] >> 6; v != rtpVersion {
		return nil, liberrors.ErrInvalidRTPVersion{Version: v}
	}

	var pkt rtp.Packet
	err := pkt.Unmarshal(buf)
	if err != nil {
		return nil, err
	}

	return &pkt, nil
}

// IsRTCP checks whether a datagram received on a shared RTP/RTCP port is a RTCP packet.
// Specification: RFC5761, section 4
func IsRTCP(buf []byte) bool {
	return len(buf) >= 8 && (buf[0]>>6) == rtpVersion && buf[1] >= 192 && buf[1] <= 223
}
