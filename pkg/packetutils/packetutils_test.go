package packetutils

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rplisten/pkg/liberrors"
)

func TestBigEndianBytes(t *testing.T) {
	for _, ca := range []struct {
		name  string
		v     uint64
		width int
		byts  []byte
	}{
		{"4 bytes", 0x01020304, 4, []byte{0x01, 0x02, 0x03, 0x04}},
		{"truncate", 0x01020304, 2, []byte{0x03, 0x04}},
		{"1 byte", 0xC9, 1, []byte{0xC9}},
		{"3 bytes", 0xFFFFFF, 3, []byte{0xFF, 0xFF, 0xFF}},
		{"wider than value", 0x0A, 4, []byte{0x00, 0x00, 0x00, 0x0A}},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.byts, BigEndianBytes(ca.v, ca.width))
		})
	}
}

func TestConcat(t *testing.T) {
	a := []byte{0x01}
	b := []byte{0x02, 0x03}

	c := Concat(a, b)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, c)

	c[0] = 0xFF
	require.Equal(t, []byte{0x01}, a)
	require.Equal(t, []byte{0x02, 0x03}, b)

	require.Equal(t, []byte{}, Concat(nil, nil))
}

func TestDecodeRTPHeader(t *testing.T) {
	byts := []byte{
		0x80, 0xe1, 0x00, 0x64, 0x00, 0x00, 0x03, 0xe8,
		0xaa, 0xbb, 0xcc, 0xdd, 0x01, 0x02, 0x03,
	}

	h, err := DecodeRTPHeader(byts)
	require.NoError(t, err)
	require.Equal(t, &Header{
		Version:        2,
		Marker:         true,
		PayloadType:    97,
		SequenceNumber: 100,
		Timestamp:      1000,
		SSRC:           0xaabbccdd,
	}, h)

	require.Equal(t, []byte{0x01, 0x02, 0x03}, Payload(byts))
}

func TestDecodeRTPHeaderErrors(t *testing.T) {
	_, err := DecodeRTPHeader([]byte{0x80, 0x61})
	require.Equal(t, liberrors.ErrPacketTooShort{Length: 2}, err)

	_, err = DecodeRTPHeader([]byte{
		0x40, 0x61, 0x00, 0x64, 0x00, 0x00, 0x03, 0xe8,
		0xaa, 0xbb, 0xcc, 0xdd,
	})
	require.Equal(t, liberrors.ErrInvalidRTPVersion{Version: 1}, err)
}

func TestDecodeRTPPacket(t *testing.T) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    97,
			SequenceNumber: 946,
			Timestamp:      0xafb45733,
			SSRC:           0xba9da416,
		},
		Payload: []byte{0xfc, 0x01, 0x02},
	}
	byts, err := pkt.Marshal()
	require.NoError(t, err)

	dec, err := DecodeRTPPacket(byts)
	require.NoError(t, err)
	require.Equal(t, uint16(946), dec.SequenceNumber)
	require.Equal(t, uint32(0xba9da416), dec.SSRC)
	require.Equal(t, []byte{0xfc, 0x01, 0x02}, dec.Payload)

	byts[0] = 0x00
	_, err = DecodeRTPPacket(byts)
	require.Equal(t, liberrors.ErrInvalidRTPVersion{Version: 0}, err)
}

func TestIsRTCP(t *testing.T) {
	require.True(t, IsRTCP([]byte{0x80, 0xc8, 0x00, 0x06, 0x00, 0x00, 0x00, 0x00}))
	require.True(t, IsRTCP([]byte{0x81, 0xcb, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}))
	require.False(t, IsRTCP([]byte{0x80, 0x61, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}))
	require.False(t, IsRTCP([]byte{0x80, 0xe1, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}))
	require.False(t, IsRTCP([]byte{0x80, 0xc8}))
}
