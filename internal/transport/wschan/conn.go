// Package wschan provides a WebSocket transport for remote terminal sessions.
// Terminal bytes travel as binary messages; control events (resize, ping) are
// small JSON text messages so the byte stream stays untouched.
package wschan

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldterm/fieldterm/internal/ports"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// controlMessage is the JSON shape of a text frame on the terminal socket.
type controlMessage struct {
	Type string `json:"type"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
}

// DialOptions configures the WebSocket connection.
type DialOptions struct {
	// Header is sent with the upgrade request (auth tokens and the like).
	Header http.Header

	// HandshakeTimeout bounds the upgrade. Zero means 10 seconds.
	HandshakeTimeout time.Duration
}

// Conn is a terminal byte channel over one WebSocket connection.
// It implements ports.Transport.
type Conn struct {
	ws *websocket.Conn

	// gorilla allows one concurrent writer; writeMu serializes data
	// writes, resize frames and the keepalive pinger.
	writeMu sync.Mutex

	// Leftover bytes from a binary message larger than the caller's buffer.
	pending []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ ports.Transport = (*Conn)(nil)

// Dial connects to a WebSocket terminal endpoint.
func Dial(url string, opts DialOptions) (*Conn, error) {
	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	ws, resp, err := dialer.Dial(url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	return newConn(ws), nil
}

// newConn wraps an established WebSocket connection.
func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:   ws,
		done: make(chan struct{}),
	}

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()

	return c
}

// keepalive pings the peer so intermediaries keep the connection open.
func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Read returns the next chunk of terminal bytes. Text frames (control
// traffic from the server) are skipped; only binary frames carry data.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		n := copy(p, data)
		if n < len(data) {
			c.pending = data[n:]
		}
		return n, nil
	}
}

// Write sends terminal bytes as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Resize reports a new terminal size as a JSON control frame.
func (c *Conn) Resize(rows, cols uint16) error {
	payload, err := json.Marshal(controlMessage{Type: "resize", Rows: rows, Cols: cols})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and tears down the connection. A blocked Read
// returns with an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
