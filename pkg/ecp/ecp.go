// Package ecp contains a client for the device control channel.
package ecp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rplisten/pkg/liberrors"
)

const (
	// DefaultPort is the default port of the control channel.
	DefaultPort = 8060

	subprotocol = "ecp-2"
	path        = "/ecp-session"
	statusOK    = "200"
)

const (
	requestAuthenticate     = "authenticate"
	requestSetAudioOutput   = "set-audio-output"
	requestQueryAudioDevice = "query-audio-device"
)

type request struct {
	Request          string `json:"request"`
	RequestID        string `json:"request-id"`
	ParamResponse    string `json:"param-response,omitempty"`
	ParamAudioOutput string `json:"param-audio-output,omitempty"`
	ParamDevname     string `json:"param-devname,omitempty"`
}

type message struct {
	Notify         string `json:"notify,omitempty"`
	ParamChallenge string `json:"param-challenge,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Response       string `json:"response,omitempty"`
	ResponseID     string `json:"response-id,omitempty"`
	Status         string `json:"status,omitempty"`
	StatusMsg      string `json:"status-msg,omitempty"`
	ContentData    string `json:"content-data,omitempty"`
}

// Client is a control channel client.
// It authenticates with the device and asks it to send audio to AudioOutput.
type Client struct {
	// Address of the device, in host or host:port format.
	// Port defaults to 8060.
	Address string

	// Destination of the audio stream, in host:port format.
	AudioOutput string

	// timeout of the websocket handshake.
	// It defaults to 10 seconds.
	HandshakeTimeout time.Duration

	// function used to dial the device.
	// It defaults to (&net.Dialer{}).DialContext.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)

	// Logger.
	// It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// called once, when the device accepts the audio output.
	OnAudioOutputSet func()

	// called with the description of the audio device.
	OnAudioDevice func(content []byte)

	ctx        context.Context
	ctxCancel  func()
	wconn      *websocket.Conn
	writeMutex sync.Mutex
	outputSet  bool
	err        error

	done chan struct{}
}

// Initialize connects to the device and starts the session in background.
func (c *Client) Initialize(ctx context.Context) error {
	if c.AudioOutput == "" {
		return fmt.Errorf("audio output not provided")
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.DialContext == nil {
		c.DialContext = (&net.Dialer{}).DialContext
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.OnAudioOutputSet == nil {
		c.OnAudioOutputSet = func() {}
	}
	if c.OnAudioDevice == nil {
		c.OnAudioDevice = func([]byte) {}
	}

	addr := c.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.FormatInt(DefaultPort, 10))
	}

	wconn, _, err := (&websocket.Dialer{
		NetDialContext:   c.DialContext,
		HandshakeTimeout: c.HandshakeTimeout,
		Subprotocols:     []string{subprotocol},
	}).DialContext(ctx, "ws://"+addr+path, nil) //nolint:bodyclose
	if err != nil {
		return err
	}

	c.ctx, c.ctxCancel = context.WithCancel(context.Background())
	c.wconn = wconn
	c.done = make(chan struct{})

	c.Logger.WithField("address", addr).Debug("control channel connected")

	go c.run()

	return nil
}

// Close closes the control channel.
func (c *Client) Close() {
	c.ctxCancel()

	func() {
		c.writeMutex.Lock()
		defer c.writeMutex.Unlock()
		c.wconn.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}()

	c.wconn.Close() //nolint:errcheck
	<-c.done
}

// Done returns a channel that is closed when the control channel terminates.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait waits for the control channel to terminate and returns the error that caused it.
func (c *Client) Wait() error {
	<-c.done
	return c.err
}

// QueryAudioDevice asks the device to describe its audio device.
func (c *Client) QueryAudioDevice() error {
	return c.write(request{
		Request:   requestQueryAudioDevice,
		RequestID: "3",
	})
}

func (c *Client) write(req request) error {
	byts, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.wconn.WriteMessage(websocket.TextMessage, byts)
}

func (c *Client) run() {
	defer close(c.done)

	err := c.runInner()

	select {
	case <-c.ctx.Done():
	default:
		c.err = err
		c.wconn.Close() //nolint:errcheck
	}
}

func (c *Client) runInner() error {
	for {
		typ, byts, err := c.wconn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && c.outputSet {
				return nil
			}
			return liberrors.ErrECPTerminated{}
		}

		if typ != websocket.TextMessage {
			continue
		}

		var msg message
		err = json.Unmarshal(byts, &msg)
		if err != nil {
			c.Logger.WithError(err).Debug("invalid control message")
			continue
		}

		err = c.handle(&msg)
		if err != nil {
			return err
		}
	}
}

func (c *Client) handle(msg *message) error {
	switch {
	case msg.Notify == requestAuthenticate:
		c.Logger.Debug("authentication challenge received")

		return c.write(request{
			Request:       requestAuthenticate,
			RequestID:     "0",
			ParamResponse: AuthResponse(msg.ParamChallenge),
		})

	case msg.Notify != "":
		c.Logger.WithField("notify", msg.Notify).Debug("notification ignored")
		return nil

	case msg.Response == requestAuthenticate:
		if msg.Status != statusOK {
			return liberrors.ErrECPAuthFailed{}
		}

		c.Logger.Debug("authenticated")

		return c.write(request{
			Request:          requestSetAudioOutput,
			RequestID:        "1",
			ParamAudioOutput: "datagram",
			ParamDevname:     c.AudioOutput,
		})

	case msg.Response == requestSetAudioOutput:
		if msg.Status != statusOK {
			return liberrors.ErrECPStatus{Response: msg.Response, Status: msg.Status, Message: msg.StatusMsg}
		}

		// the device may confirm the output again after a new challenge.
		if c.outputSet {
			c.Logger.Debug("audio output confirmed again")
			return nil
		}

		c.Logger.WithField("output", c.AudioOutput).Info("audio output set")
		c.outputSet = true
		c.OnAudioOutputSet()
		return nil

	case msg.Response == requestQueryAudioDevice:
		if msg.Status != statusOK {
			c.Logger.WithFields(logrus.Fields{
				"status":  msg.Status,
				"message": msg.StatusMsg,
			}).Warn("audio device query failed")
			return nil
		}

		content, err := base64.StdEncoding.DecodeString(msg.ContentData)
		if err != nil {
			c.Logger.WithError(err).Warn("invalid audio device description")
			return nil
		}

		c.OnAudioDevice(content)
		return nil

	default:
		c.Logger.WithField("response", msg.Response).Debug("response ignored")
		return nil
	}
}
