package bridge

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"peabody.computer/peabody/channel"
	"peabody.computer/peabody/common"
	"peabody.computer/peabody/native"
	"peabody.computer/peabody/registry"
)

// Session is one native connection and the remote channel it is paired
// with, if any.
type Session struct {
	ID registry.ID

	bridge *Bridge
	native *net.UnixConn
	log    *logrus.Entry

	m sync.Mutex
	// +checklocks:m
	state State
	// +checklocks:m
	remote channel.Channel

	// relaying is set while the native reader runs.
	relaying atomic.Bool
	done     chan struct{}
}

// State returns the current state.
func (s *Session) State() State {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state
}

// Relaying reports whether the native side is being read.
func (s *Session) Relaying() bool {
	return s.relaying.Load()
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down. Calling it again is a no-op.
func (s *Session) Close() {
	s.dispatch(EventShutdown, nil)
}

// attach stores ch as the remote channel. A session that has already been
// torn down is reported as unknown.
func (s *Session) attach(ch channel.Channel) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.state == Closed {
		return errors.Wrapf(ErrUnknownSession, "session %d is closed", s.ID)
	}
	next, action := Transition(s.state, EventPair)
	s.state = next
	if action != ActionAttach {
		return errors.Wrapf(ErrAlreadyPaired, "session %d", s.ID)
	}
	s.remote = ch
	return nil
}

// dispatch applies e and performs a teardown if the transition asks for one.
// err is the I/O failure behind e, if any; it is only logged when it causes
// the teardown.
func (s *Session) dispatch(e Event, err error) Action {
	s.m.Lock()
	next, action := Transition(s.state, e)
	s.state = next
	remote := s.remote
	s.m.Unlock()

	if action == ActionTeardown {
		s.teardown(remote, e, err)
	}
	return action
}

func (s *Session) teardown(remote channel.Channel, cause Event, err error) {
	if err != nil {
		s.log.Errorf("bridge: %s: %v", cause, err)
	}
	s.relaying.Store(false)
	s.bridge.sessions.Remove(s.ID)
	if err := s.native.Close(); err != nil {
		s.log.Errorf("bridge: error closing native connection: %v", err)
	}
	if remote != nil {
		remote.Close(channel.CloseGoingAway, cause.String())
	}
	close(s.done)
	s.log.Infof("bridge: session closed: %s", cause)
}

func (s *Session) nativeToRemote(remote channel.Channel) {
	defer s.bridge.wg.Done()
	r := native.NewReader(s.native, s.bridge.config.ReadBufferSize, s.bridge.config.MaxFdsPerRead)
	for {
		m, err := r.Read()
		if errors.Is(err, io.EOF) {
			s.dispatch(EventNativeEOF, nil)
			return
		}
		if err != nil {
			s.dispatch(EventNativeError, err)
			return
		}
		if s.dispatch(EventNativeData, nil) != ActionForward {
			for _, f := range m.Files {
				f.Close()
			}
			return
		}
		if err := s.forward(remote, m); err != nil {
			s.dispatch(EventWriteError, errors.Wrap(err, "remote"))
			return
		}
	}
}

// forward sends one read event to remote. Descriptors are minted into handles
// and announced before the payload.
func (s *Session) forward(remote channel.Channel, m *native.Message) error {
	if m.Truncated || m.Dropped > 0 {
		s.log.Warnf("bridge: too many descriptors in one read, %d dropped (truncated: %t)", m.Dropped, m.Truncated)
	}
	if len(m.Files) > 0 {
		if err := s.announce(remote, m.Files); err != nil {
			return err
		}
	}
	if err := remote.WriteMessage(channel.TextMessage, []byte(common.TagWayland)); err != nil {
		return err
	}
	if err := remote.WriteMessage(channel.BinaryMessage, m.Payload); err != nil {
		return err
	}
	s.log.Debugf("bridge: forwarded %d bytes to remote", len(m.Payload))
	return nil
}

// announce mints files into handles and sends their ids. Handles whose ids
// never reached the peer are released again.
func (s *Session) announce(remote channel.Channel, files []*os.File) error {
	minted := make([]registry.ID, 0, len(files))
	ids := make([]byte, 0, 4*len(files))
	for _, f := range files {
		h, err := s.bridge.handles.Mint(f, s.ID)
		if err != nil {
			s.log.Errorf("bridge: dropping descriptor: %v", err)
			continue
		}
		minted = append(minted, h.ID)
		ids = binary.LittleEndian.AppendUint32(ids, uint32(h.ID))
	}
	if len(minted) == 0 {
		return nil
	}
	err := remote.WriteMessage(channel.TextMessage, []byte(common.TagFds))
	if err == nil {
		err = remote.WriteMessage(channel.BinaryMessage, ids)
	}
	if err != nil {
		for _, id := range minted {
			s.bridge.handles.Release(id)
		}
		return err
	}
	s.log.Debugf("bridge: announced %d handles", len(minted))
	return nil
}

func (s *Session) remoteToNative(remote channel.Channel) {
	defer s.bridge.wg.Done()
	for {
		_, data, err := remote.ReadMessage()
		if err != nil {
			s.dispatch(EventRemoteClosed, nil)
			return
		}
		if s.dispatch(EventRemoteMessage, nil) != ActionForward {
			return
		}
		if _, err := s.native.Write(data); err != nil {
			s.dispatch(EventWriteError, errors.Wrap(err, "native"))
			return
		}
		s.log.Debugf("bridge: forwarded %d bytes to native", len(data))
	}
}
