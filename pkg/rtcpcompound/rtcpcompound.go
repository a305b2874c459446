// Package rtcpcompound contains functions to assemble outgoing RTCP packets.
package rtcpcompound

import (
	"fmt"

	"github.com/pion/rtcp"

	"github.com/bluenviron/rplisten/pkg/packetutils"
)

const (
	appNameSize = 4

	// Name and data of the app packets that announce capabilities to the device.
	VDLYName = "VDLY"
	VDLYData = 500000
	CVERName = "CVER"
	CVERData = 808464434

	// ByeReason is the reason sent with goodbye packets.
	ByeReason = "Quitting"
)

// receiver report that was sent without statistics:
// one block, all fields set to zero.
var legacyReceiverReport = []byte{
	0x81, 0xc9, 0x00, 0x07,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// ReceiverReport encodes a RTCP receiver report.
func ReceiverReport(ssrc uint32, reports []rtcp.ReceptionReport) ([]byte, error) {
	rr := &rtcp.ReceiverReport{
		SSRC:    ssrc,
		Reports: reports,
	}
	return rr.Marshal()
}

// LegacyReceiverReport returns a fixed receiver report that does not carry statistics.
func LegacyReceiverReport() []byte {
	return packetutils.Concat(nil, legacyReceiverReport)
}

// App encodes a RTCP application-defined packet.
// Specification: RFC3550, section 6.7
func App(subtype uint8, ssrc uint32, name string, data []byte) ([]byte, error) {
	if len(name) != appNameSize {
		return nil, fmt.Errorf("invalid name length: %d", len(name))
	}

	if (len(data) % 4) != 0 {
		return nil, fmt.Errorf("data length is not a multiple of 4: %d", len(data))
	}

	h := rtcp.Header{
		Count:  subtype,
		Type:   rtcp.TypeApplicationDefined,
		Length: uint16((8+appNameSize+len(data))/4 - 1),
	}

	buf, err := h.Marshal()
	if err != nil {
		return nil, err
	}

	buf = packetutils.Concat(buf, packetutils.BigEndianBytes(uint64(ssrc), 4))
	buf = packetutils.Concat(buf, []byte(name))
	return packetutils.Concat(buf, data), nil
}

// VDLY encodes the app packet that announces the playback delay.
func VDLY() ([]byte, error) {
	return App(0, 0, VDLYName, packetutils.BigEndianBytes(VDLYData, 4))
}

// CVER encodes the app packet that announces the client version.
func CVER() ([]byte, error) {
	return App(0, 0, CVERName, packetutils.BigEndianBytes(CVERData, 4))
}

// Goodbye encodes a RTCP goodbye packet.
func Goodbye(ssrc uint32, reason string) ([]byte, error) {
	bye := &rtcp.Goodbye{
		Sources: []uint32{ssrc},
		Reason:  reason,
	}
	return bye.Marshal()
}

// ReceiverReportWithGoodbye encodes a compound packet made of a receiver report and a goodbye.
func ReceiverReportWithGoodbye(ssrc uint32, reports []rtcp.ReceptionReport) ([]byte, error) {
	rr, err := ReceiverReport(ssrc, reports)
	if err != nil {
		return nil, err
	}

	bye, err := Goodbye(ssrc, ByeReason)
	if err != nil {
		return nil, err
	}

	return packetutils.Concat(rr, bye), nil
}
