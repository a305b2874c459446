package liberrors

import (
	"fmt"
)

// ErrPacketTooShort is returned when a packet is shorter than the fixed RTP header.
type ErrPacketTooShort struct {
	Length int
}

// Error implements the error interface.
func (e ErrPacketTooShort) Error() string {
	return fmt.Sprintf("packet is too short (%d bytes)", e.Length)
}

// ErrInvalidRTPVersion is returned when a RTP packet has a version different than 2.
type ErrInvalidRTPVersion struct {
	Version uint8
}

// Error implements the error interface.
func (e ErrInvalidRTPVersion) Error() string {
	return fmt.Sprintf("invalid RTP version %d", e.Version)
}

// ErrUnexpectedPayloadType is returned when a RTP packet has a payload type different
// than the negotiated one.
type ErrUnexpectedPayloadType struct {
	Expected uint8
	Value    uint8
}

// Error implements the error interface.
func (e ErrUnexpectedPayloadType) Error() string {
	return fmt.Sprintf("unexpected payload type %d, expected %d", e.Value, e.Expected)
}
