// Package description contains the description of the relayed audio stream.
package description

import (
	"fmt"
	"strconv"

	psdp "github.com/pion/sdp/v3"
)

// Session is the description of the stream relayed to the local player.
type Session struct {
	// address the stream is sent to.
	Address string

	// port the stream is sent to.
	Port int

	PayloadType uint8
	Codec       string
	ClockRate   int
	Channels    int
}

// RTPMap returns the value of the rtpmap attribute.
func (d Session) RTPMap() string {
	v := d.Codec + "/" + strconv.FormatInt(int64(d.ClockRate), 10)
	if d.Channels > 1 {
		v += "/" + strconv.FormatInt(int64(d.Channels), 10)
	}
	return v
}

// Marshal encodes the description in SDP format.
func (d Session) Marshal() ([]byte, error) {
	if d.Address == "" {
		return nil, fmt.Errorf("address not provided")
	}

	if d.Port <= 0 || d.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", d.Port)
	}

	typ := strconv.FormatUint(uint64(d.PayloadType), 10)

	sout := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: d.Address,
		},
		SessionName: psdp.SessionName("-"),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: d.Address},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{{
			MediaName: psdp.MediaName{
				Media:   "audio",
				Port:    psdp.RangedPort{Value: d.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{typ},
			},
			Attributes: []psdp.Attribute{{
				Key:   "rtpmap",
				Value: typ + " " + d.RTPMap(),
			}},
		}},
	}

	return sout.Marshal()
}
