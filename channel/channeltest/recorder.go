// Package channeltest provides an in-memory channel.Channel for tests.
package channeltest

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Message is one message written to or delivered by a Recorder.
type Message struct {
	Type int
	Data []byte
}

// ErrClosed is returned by a closed Recorder.
var ErrClosed = errors.New("channeltest: closed")

// Recorder records every message written to it and delivers messages pushed
// with Deliver to ReadMessage.
type Recorder struct {
	m sync.Mutex
	// +checklocks:m
	sent []Message
	// +checklocks:m
	closeCode int
	// +checklocks:m
	closeCalls int
	// +checklocks:m
	writeErr error

	incoming chan Message
	closed   chan struct{}
	once     sync.Once
	changed  chan struct{}
}

// NewRecorder returns an open Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		incoming: make(chan Message, 64),
		closed:   make(chan struct{}),
		changed:  make(chan struct{}, 1),
	}
}

func (r *Recorder) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// WriteMessage implements channel.Channel.
func (r *Recorder) WriteMessage(messageType int, data []byte) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	select {
	case <-r.closed:
		return ErrClosed
	default:
	}
	r.sent = append(r.sent, Message{Type: messageType, Data: append([]byte(nil), data...)})
	r.notify()
	return nil
}

// ReadMessage implements channel.Channel.
func (r *Recorder) ReadMessage() (int, []byte, error) {
	select {
	case m := <-r.incoming:
		return m.Type, m.Data, nil
	case <-r.closed:
		return 0, nil, ErrClosed
	}
}

// Close implements channel.Channel. Only the first call records a code.
func (r *Recorder) Close(code int, reason string) error {
	r.m.Lock()
	r.closeCalls++
	r.m.Unlock()
	r.once.Do(func() {
		r.m.Lock()
		r.closeCode = code
		r.m.Unlock()
		close(r.closed)
		r.notify()
	})
	return nil
}

// Deliver queues a message for ReadMessage.
func (r *Recorder) Deliver(messageType int, data []byte) {
	r.incoming <- Message{Type: messageType, Data: data}
}

// FailWrites makes every subsequent write return err.
func (r *Recorder) FailWrites(err error) {
	r.m.Lock()
	defer r.m.Unlock()
	r.writeErr = err
}

// Sent returns a copy of the messages written so far.
func (r *Recorder) Sent() []Message {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]Message(nil), r.sent...)
}

// CloseCode returns the code of the first Close call, or 0.
func (r *Recorder) CloseCode() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.closeCode
}

// CloseCalls returns how many times Close was called.
func (r *Recorder) CloseCalls() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.closeCalls
}

// Closed is closed once Close has been called.
func (r *Recorder) Closed() <-chan struct{} {
	return r.closed
}

// WaitSent blocks until at least n messages were written or timeout passes,
// and returns what was written.
func (r *Recorder) WaitSent(n int, timeout time.Duration) []Message {
	deadline := time.After(timeout)
	for {
		sent := r.Sent()
		if len(sent) >= n {
			return sent
		}
		select {
		case <-r.changed:
		case <-deadline:
			return sent
		}
	}
}

// WaitClosed blocks until Close is called or timeout passes. It reports
// whether the Recorder was closed.
func (r *Recorder) WaitClosed(timeout time.Duration) bool {
	select {
	case <-r.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}
