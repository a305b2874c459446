/*
Package rplisten is a RTP/RTCP receiver session that relays an audio stream
sent by a device in private listening mode to a local player.

Examples are available in cmd/rplisten.
*/
package rplisten

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rplisten/pkg/liberrors"
	"github.com/bluenviron/rplisten/pkg/multicast"
	"github.com/bluenviron/rplisten/pkg/sessionstate"
)

func checkPort(name string, port int, optional bool) error {
	if port < 0 || port > 65535 || (!optional && port == 0) {
		return liberrors.ErrSessionInvalidPort{Name: name, Port: port}
	}
	return nil
}

// Session is a RTP receiver session.
// It receives the stream on a UDP port, relays it to a loopback address
// and sends RTCP feedback to the device.
type Session struct {
	//
	// Target
	//

	// host of the device.
	RemoteHost string

	// local host the device sends the stream to.
	// If it is a multicast address, the session joins its group.
	LocalHost string

	// local RTP port.
	// Zero binds a random port.
	RTPPort int

	// RTCP port of the device.
	RTCPPort int

	// RTP outbound port. The session never sends RTP, this is only logged.
	RTPOutPort int

	// local port RTCP packets are sent from.
	// When zero or equal to RTPPort, RTCP packets share the RTP socket.
	RTCPOutPort int

	//
	// RTP/RTCP parameters (all optional)
	//

	// session bandwidth, in bytes per second.
	// It defaults to 10000.
	Bandwidth float64

	// payload type of the stream.
	// It defaults to 97.
	PayloadType uint8

	// clock rate of the stream.
	// It defaults to 48000.
	ClockRate int

	// SSRC of the session.
	// It defaults to a random 31-bit value.
	SSRC *uint32

	// send a fixed receiver report instead of the computed one, and no goodbye.
	LegacyReceiverReport bool

	//
	// Relay (all optional)
	//

	// address the stream is relayed to.
	// It defaults to 127.0.0.1:5153.
	LoopbackAddress string

	// address the stream is relayed from.
	// It defaults to 127.0.0.1:5152.
	LoopbackLocalAddress string

	// number of datagrams that can be queued for the relay.
	// It defaults to 256.
	LoopbackQueueSize int

	//
	// System (all optional)
	//

	// size of the receive buffer.
	// It defaults to 1024.
	ReadBufferSize int

	// interface used to join multicast groups.
	// It defaults to the system choice.
	MulticastInterface string

	// maximum time to wait for a worker to stop.
	// It defaults to 4 seconds.
	StopTimeout time.Duration

	// Logger.
	// It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// function used to bind sockets.
	// It defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)

	// function used to get the current time.
	// It defaults to time.Now.
	TimeNow func() time.Time

	//
	// private
	//

	id         uuid.UUID
	logger     logrus.FieldLogger
	state      *sessionstate.State
	rtcpAddr   *net.UDPAddr
	rtpConn    net.PacketConn
	rtcpConn   net.PacketConn
	forwarder  *loopbackForwarder
	receiver   *rtpReceiver
	senderOnce sync.Once

	mutex         sync.Mutex
	initialized   bool
	started       bool
	sender        *rtcpSender
	senderStopped bool
}

// Initialize validates the configuration and allocates the session state.
func (s *Session) Initialize() error {
	if s.initialized {
		return nil
	}

	// defaults
	if s.Bandwidth == 0 {
		s.Bandwidth = DefaultBandwidth
	}
	if s.PayloadType == 0 {
		s.PayloadType = DefaultPayloadType
	}
	if s.ClockRate == 0 {
		s.ClockRate = defaultClockRate
	}
	if s.LoopbackAddress == "" {
		s.LoopbackAddress = DefaultLoopbackAddress
	}
	if s.LoopbackLocalAddress == "" {
		s.LoopbackLocalAddress = DefaultLoopbackLocalAddress
	}
	if s.LoopbackQueueSize == 0 {
		s.LoopbackQueueSize = defaultLoopbackQueueSize
	}
	if s.ReadBufferSize == 0 {
		s.ReadBufferSize = defaultReadBufferSize
	}
	if s.StopTimeout == 0 {
		s.StopTimeout = defaultStopTimeout
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	if s.ListenPacket == nil {
		s.ListenPacket = net.ListenPacket
	}
	if s.TimeNow == nil {
		s.TimeNow = time.Now
	}

	for _, p := range []struct {
		name     string
		port     int
		optional bool
	}{
		{"RTP port", s.RTPPort, true},
		{"RTCP port", s.RTCPPort, false},
		{"RTP outbound port", s.RTPOutPort, true},
		{"RTCP outbound port", s.RTCPOutPort, true},
	} {
		err := checkPort(p.name, p.port, p.optional)
		if err != nil {
			return err
		}
	}

	if s.RemoteHost == "" {
		return fmt.Errorf("remote host not provided")
	}

	rtcpAddr, err := net.ResolveUDPAddr("udp4",
		net.JoinHostPort(s.RemoteHost, strconv.FormatInt(int64(s.RTCPPort), 10)))
	if err != nil {
		return liberrors.ErrHostResolution{Host: s.RemoteHost, Err: err}
	}
	s.rtcpAddr = rtcpAddr

	s.state = &sessionstate.State{
		Bandwidth:   s.Bandwidth,
		PayloadType: s.PayloadType,
		ClockRate:   s.ClockRate,
		SelfSSRC:    s.SSRC,
		TimeNow:     s.TimeNow,
	}
	err = s.state.Initialize()
	if err != nil {
		return err
	}

	s.id = uuid.New()
	s.logger = s.Logger.WithFields(logrus.Fields{
		"session": s.id.String(),
	})

	s.logger.WithFields(logrus.Fields{
		"component": "session",
		"remote":    s.RemoteHost,
		"ssrc":      s.state.SSRC(),
	}).Debug("session initialized")

	s.initialized = true

	return nil
}

// ID returns the session ID, used to correlate log entries.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the session state.
func (s *Session) State() *sessionstate.State {
	return s.state
}

// SetPayloadType sets the payload type of the stream.
// Before Initialize, it sets PayloadType; afterwards, only the session state is updated.
func (s *Session) SetPayloadType(pt uint8) {
	if s.state == nil {
		s.PayloadType = pt
		return
	}
	s.state.SetPayloadType(pt)
}

// RTPAddr returns the local address of the RTP socket.
func (s *Session) RTPAddr() net.Addr {
	if s.rtpConn == nil {
		return nil
	}
	return s.rtpConn.LocalAddr()
}

func (s *Session) sharedRTCP() bool {
	return s.RTCPOutPort == 0 || s.RTCPOutPort == s.RTPPort
}

func (s *Session) listenRTP() (net.PacketConn, error) {
	address := net.JoinHostPort(s.LocalHost, strconv.FormatInt(int64(s.RTPPort), 10))

	if multicast.IsMulticast(s.LocalHost) {
		intf, err := multicast.InterfaceByName(s.MulticastInterface)
		if err != nil {
			return nil, err
		}

		c, err := multicast.Listen(intf, address, s.ListenPacket)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	return s.ListenPacket("udp4", address)
}

func (s *Session) listenRTCP() (net.PacketConn, error) {
	host := s.LocalHost
	if multicast.IsMulticast(host) {
		host = ""
	}
	return s.ListenPacket("udp4", net.JoinHostPort(host, strconv.FormatInt(int64(s.RTCPOutPort), 10)))
}

// Start binds sockets and starts receiving the stream.
// RTCP feedback starts when the first valid RTP packet is received.
func (s *Session) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.initialized {
		return liberrors.ErrSessionNotInitialized{}
	}

	if s.started {
		return liberrors.ErrSessionAlreadyStarted{}
	}

	var err error
	s.rtpConn, err = s.listenRTP()
	if err != nil {
		return err
	}

	if !s.sharedRTCP() {
		s.rtcpConn, err = s.listenRTCP()
		if err != nil {
			s.rtpConn.Close()
			return err
		}
	}

	s.forwarder = &loopbackForwarder{
		s:      s,
		logger: s.logger.WithField("component", "loopback"),
	}
	err = s.forwarder.initialize()
	if err != nil {
		if s.rtcpConn != nil {
			s.rtcpConn.Close()
		}
		s.rtpConn.Close()
		return err
	}

	if s.RTPOutPort != 0 {
		s.logger.WithFields(logrus.Fields{
			"component": "session",
			"port":      s.RTPOutPort,
		}).Debug("RTP outbound port is not used, the session only receives")
	}

	s.receiver = &rtpReceiver{
		s:      s,
		pc:     s.rtpConn,
		logger: s.logger.WithField("component", "rtp"),
	}
	s.receiver.start()

	s.started = true

	s.logger.WithFields(logrus.Fields{
		"component": "session",
		"address":   s.rtpConn.LocalAddr().String(),
	}).Info("listening for RTP packets")

	return nil
}

// called by the receiver when the first valid RTP packet is received.
func (s *Session) startRTCPSender() {
	s.senderOnce.Do(func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if s.senderStopped {
			return
		}

		pc := s.rtcpConn
		if pc == nil {
			pc = s.rtpConn
		}

		s.sender = &rtcpSender{
			state:     s.state,
			pc:        pc,
			writeAddr: s.rtcpAddr,
			legacy:    s.LegacyReceiverReport,
			timeNow:   s.TimeNow,
			logger:    s.logger.WithField("component", "rtcp"),
		}
		s.sender.start()
	})
}

// StopRTCPSender stops sending RTCP packets.
// If the session took part in the stream, a goodbye is sent before stopping.
func (s *Session) StopRTCPSender() {
	s.mutex.Lock()
	s.senderStopped = true
	sender := s.sender
	s.mutex.Unlock()

	if sender != nil {
		if !sender.stop(s.StopTimeout) {
			s.logger.WithField("component", "rtcp").Warn("RTCP sender did not stop in time")
		}
	}

	if s.rtcpConn != nil {
		s.rtcpConn.Close()
	}
}

// StopRTPReceiver stops receiving and relaying the stream.
func (s *Session) StopRTPReceiver() {
	s.mutex.Lock()
	receiver := s.receiver
	s.receiver = nil
	s.mutex.Unlock()

	if receiver == nil {
		return
	}

	if !receiver.stop(s.StopTimeout) {
		s.logger.WithField("component", "rtp").Warn("RTP receiver did not stop in time")
	}

	s.rtpConn.Close()
	s.forwarder.close()
}

// Close stops the RTCP sender, then the RTP receiver.
func (s *Session) Close() {
	s.StopRTCPSender()
	s.StopRTPReceiver()

	if s.logger != nil {
		s.logger.WithField("component", "session").Info("session closed")
	}
}
