// Package bridge relays between native clients and their paired remote
// channels.
package bridge

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"peabody.computer/peabody/channel"
	"peabody.computer/peabody/common"
	"peabody.computer/peabody/region"
	"peabody.computer/peabody/registry"
)

// Errors returned by Bridge.
var (
	ErrUnknownSession = errors.New("bridge: unknown session")
	ErrAlreadyPaired  = errors.New("bridge: session already paired")
	ErrClosed         = errors.New("bridge: closed")
)

// Config tunes native reads.
type Config struct {
	// MaxFdsPerRead bounds the descriptors accepted in one read event.
	MaxFdsPerRead int

	// ReadBufferSize is the largest payload read in one event.
	ReadBufferSize int
}

// Bridge owns every native session.
type Bridge struct {
	sessions *registry.Table[*Session]
	handles  *region.Handles
	config   Config

	m sync.Mutex
	// +checklocks:m
	closed bool

	wg sync.WaitGroup
}

// New returns a Bridge that mints received descriptors into handles.
func New(handles *region.Handles, config Config) *Bridge {
	if config.MaxFdsPerRead <= 0 {
		config.MaxFdsPerRead = common.MaxFdsPerRead
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = common.NativeReadBufferSize
	}
	return &Bridge{
		sessions: registry.New[*Session](),
		handles:  handles,
		config:   config,
	}
}

// Create registers conn as a new unpaired session. Nothing is read from conn
// until the session is paired. On error conn is closed.
func (b *Bridge) Create(conn *net.UnixConn) (*Session, error) {
	b.m.Lock()
	defer b.m.Unlock()
	if b.closed {
		conn.Close()
		return nil, ErrClosed
	}
	id, err := b.sessions.Allocate()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "bridge: unable to create session")
	}
	sess := &Session{
		ID:     id,
		bridge: b,
		native: conn,
		log:    logrus.WithField("session", id),
		done:   make(chan struct{}),
	}
	b.sessions.Insert(id, sess)
	sess.log.Info("bridge: session created")
	return sess, nil
}

// Lookup returns the live session with id.
func (b *Bridge) Lookup(id registry.ID) (*Session, bool) {
	return b.sessions.Lookup(id)
}

// Len returns the number of live sessions.
func (b *Bridge) Len() int {
	return b.sessions.Len()
}

// Pair attaches ch to session id and starts relaying. The caller keeps
// ownership of ch when an error is returned.
func (b *Bridge) Pair(id registry.ID, ch channel.Channel) (*Session, error) {
	sess, ok := b.sessions.Lookup(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSession, "session %d", id)
	}

	b.m.Lock()
	defer b.m.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if err := sess.attach(ch); err != nil {
		return nil, err
	}
	sess.relaying.Store(true)
	b.wg.Add(2)
	go sess.nativeToRemote(ch)
	go sess.remoteToNative(ch)
	sess.log.Info("bridge: session paired")
	return sess, nil
}

// Close tears down every session and waits for their relays to stop.
func (b *Bridge) Close() {
	b.m.Lock()
	b.closed = true
	b.m.Unlock()

	for _, id := range b.sessions.IDs() {
		if sess, ok := b.sessions.Lookup(id); ok {
			sess.Close()
		}
	}
	b.wg.Wait()
}
