// Package channel wraps the message-based remote transport. A Channel carries
// text and binary messages to and from a browser-hosted peer and is closed
// with an explicit close code.
package channel

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Message types, matching the WebSocket opcodes.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Close codes used by the gateway.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	CloseProtocolError   = websocket.CloseProtocolError
	ClosePolicyViolation = websocket.ClosePolicyViolation
)

// ErrClosed is returned when writing to a channel that has been closed.
var ErrClosed = errors.New("channel: closed")

// Channel is a remote message channel. WriteMessage and Close are safe to call
// concurrently; ReadMessage must only be called from one goroutine.
type Channel interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close(code int, reason string) error
}

// Conn is a Channel backed by a WebSocket connection.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	log          *logrus.Entry

	writeLock sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps ws. Writes that take longer than writeTimeout fail; a zero
// writeTimeout disables the deadline.
func New(ws *websocket.Conn, writeTimeout time.Duration, log *logrus.Entry) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		log:          log,
		closed:       make(chan struct{}),
	}
}

func (c *Conn) deadline() time.Time {
	if c.writeTimeout == 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

// WriteMessage sends one message. Writes are serialized so that a message is
// never interleaved with another.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.ws.SetWriteDeadline(c.deadline())
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return errors.Wrap(err, "channel: write")
	}
	return nil
}

// ReadMessage returns the next data message. Control frames are handled by
// the underlying connection.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// Close sends a close frame with code and reason and then closes the
// connection. Only the first call has any effect.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		// WriteControl may run concurrently with WriteMessage.
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, c.deadline()); werr != nil && werr != websocket.ErrCloseSent {
			c.log.Debugf("channel: close frame not sent: %v", werr)
		}
		err = c.ws.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
