package ecp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rplisten/pkg/liberrors"
)

func newTestDevice(t *testing.T, handler func(wconn *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"ecp-2"},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ecp-session", r.URL.Path)

		wconn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer wconn.Close()

		require.Equal(t, "ecp-2", wconn.Subprotocol())

		handler(wconn)
	}))
}

func readRequest(t *testing.T, wconn *websocket.Conn) map[string]string {
	_, byts, err := wconn.ReadMessage()
	require.NoError(t, err)

	var req map[string]string
	err = json.Unmarshal(byts, &req)
	require.NoError(t, err)
	return req
}

func writeMessage(t *testing.T, wconn *websocket.Conn, msg map[string]string) {
	byts, err := json.Marshal(msg)
	require.NoError(t, err)
	err = wconn.WriteMessage(websocket.TextMessage, byts)
	require.NoError(t, err)
}

func authenticate(t *testing.T, wconn *websocket.Conn, status string) {
	writeMessage(t, wconn, map[string]string{
		"notify":          "authenticate",
		"param-challenge": "abcdef",
		"timestamp":       "123",
	})

	require.Equal(t, map[string]string{
		"request":        "authenticate",
		"request-id":     "0",
		"param-response": "mBIQb8Aat+mokJplNZiSCIGr7/s=",
	}, readRequest(t, wconn))

	writeMessage(t, wconn, map[string]string{
		"response":    "authenticate",
		"response-id": "0",
		"status":      status,
		"status-msg":  "OK",
	})
}

func TestClient(t *testing.T) {
	serverDone := make(chan struct{})

	s := newTestDevice(t, func(wconn *websocket.Conn) {
		defer close(serverDone)

		authenticate(t, wconn, "200")

		require.Equal(t, map[string]string{
			"request":            "set-audio-output",
			"request-id":         "1",
			"param-audio-output": "datagram",
			"param-devname":      "192.168.1.5:6970",
		}, readRequest(t, wconn))

		writeMessage(t, wconn, map[string]string{
			"response":    "set-audio-output",
			"response-id": "1",
			"status":      "200",
			"status-msg":  "OK",
		})

		require.Equal(t, map[string]string{
			"request":    "query-audio-device",
			"request-id": "3",
		}, readRequest(t, wconn))

		writeMessage(t, wconn, map[string]string{
			"response":     "query-audio-device",
			"response-id":  "3",
			"status":       "200",
			"status-msg":   "OK",
			"content-data": "eyJydHAtaW5mbyI6e319",
		})

		wconn.ReadMessage() //nolint:errcheck
	})
	defer s.Close()

	outputSet := make(chan struct{})
	audioDevice := make(chan []byte)

	c := &Client{
		Address:          strings.TrimPrefix(s.URL, "http://"),
		AudioOutput:      "192.168.1.5:6970",
		OnAudioOutputSet: func() { close(outputSet) },
		OnAudioDevice:    func(content []byte) { audioDevice <- content },
	}
	err := c.Initialize(context.Background())
	require.NoError(t, err)

	select {
	case <-outputSet:
	case <-time.After(5 * time.Second):
		t.Fatal("audio output not set")
	}

	err = c.QueryAudioDevice()
	require.NoError(t, err)

	require.Equal(t, []byte(`{"rtp-info":{}}`), <-audioDevice)

	c.Close()
	require.NoError(t, c.Wait())

	<-serverDone
}

func TestClientAudioOutputSetOnce(t *testing.T) {
	s := newTestDevice(t, func(wconn *websocket.Conn) {
		// the device challenges the client again after the output is set
		for i := 0; i < 2; i++ {
			authenticate(t, wconn, "200")
			require.Equal(t, "set-audio-output", readRequest(t, wconn)["request"])

			writeMessage(t, wconn, map[string]string{
				"response":    "set-audio-output",
				"response-id": "1",
				"status":      "200",
				"status-msg":  "OK",
			})
		}

		writeMessage(t, wconn, map[string]string{
			"response":     "query-audio-device",
			"response-id":  "3",
			"status":       "200",
			"status-msg":   "OK",
			"content-data": "eyJydHAtaW5mbyI6e319",
		})

		wconn.ReadMessage() //nolint:errcheck
	})
	defer s.Close()

	var calls atomic.Int32
	audioDevice := make(chan []byte, 1)

	c := &Client{
		Address:          strings.TrimPrefix(s.URL, "http://"),
		AudioOutput:      "192.168.1.5:6970",
		OnAudioOutputSet: func() { calls.Add(1) },
		OnAudioDevice:    func(content []byte) { audioDevice <- content },
	}
	err := c.Initialize(context.Background())
	require.NoError(t, err)

	// messages are handled in order, so both confirmations were processed
	select {
	case <-audioDevice:
	case <-time.After(5 * time.Second):
		t.Fatal("audio device not received")
	}

	require.Equal(t, int32(1), calls.Load())

	c.Close()
	require.NoError(t, c.Wait())
}

func TestClientAuthFailed(t *testing.T) {
	s := newTestDevice(t, func(wconn *websocket.Conn) {
		authenticate(t, wconn, "401")
		wconn.ReadMessage() //nolint:errcheck
	})
	defer s.Close()

	c := &Client{
		Address:     strings.TrimPrefix(s.URL, "http://"),
		AudioOutput: "192.168.1.5:6970",
	}
	err := c.Initialize(context.Background())
	require.NoError(t, err)

	err = c.Wait()
	require.Equal(t, liberrors.ErrECPAuthFailed{}, err)
}

func TestClientSetAudioOutputFailed(t *testing.T) {
	s := newTestDevice(t, func(wconn *websocket.Conn) {
		authenticate(t, wconn, "200")
		readRequest(t, wconn)

		writeMessage(t, wconn, map[string]string{
			"response":    "set-audio-output",
			"response-id": "1",
			"status":      "503",
			"status-msg":  "Busy",
		})

		wconn.ReadMessage() //nolint:errcheck
	})
	defer s.Close()

	c := &Client{
		Address:     strings.TrimPrefix(s.URL, "http://"),
		AudioOutput: "192.168.1.5:6970",
	}
	err := c.Initialize(context.Background())
	require.NoError(t, err)

	err = c.Wait()
	require.Equal(t, liberrors.ErrECPStatus{
		Response: "set-audio-output",
		Status:   "503",
		Message:  "Busy",
	}, err)
}

func TestClientConnectionClosed(t *testing.T) {
	s := newTestDevice(t, func(_ *websocket.Conn) {})
	defer s.Close()

	c := &Client{
		Address:     strings.TrimPrefix(s.URL, "http://"),
		AudioOutput: "192.168.1.5:6970",
	}
	err := c.Initialize(context.Background())
	require.NoError(t, err)

	err = c.Wait()
	require.Equal(t, liberrors.ErrECPTerminated{}, err)
}

func TestClientMissingOutput(t *testing.T) {
	c := &Client{Address: "127.0.0.1"}
	err := c.Initialize(context.Background())
	require.EqualError(t, err, "audio output not provided")
}
