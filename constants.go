package rplisten

import (
	"time"
)

// default ports negotiated with the device.
const (
	DefaultRTPPort         = 6970
	DefaultRTPOutboundPort = 6971
	DefaultRTCPPort        = 5150
	DefaultRTCPOutPort     = 5051
)

const (
	// DefaultPayloadType is the payload type of the audio stream.
	DefaultPayloadType = 97

	// DefaultBandwidth is the session bandwidth, in bytes per second.
	DefaultBandwidth = 10000

	// DefaultLoopbackAddress is the address the stream is relayed to.
	DefaultLoopbackAddress = "127.0.0.1:5153"

	// DefaultLoopbackLocalAddress is the address the stream is relayed from.
	DefaultLoopbackLocalAddress = "127.0.0.1:5152"

	defaultClockRate         = 48000
	defaultReadBufferSize    = 1024
	defaultLoopbackQueueSize = 256
	defaultStopTimeout       = 4 * time.Second

	// Opus durations are expressed at 48kHz regardless of the clock rate.
	opusSampleRate = 48000
)
