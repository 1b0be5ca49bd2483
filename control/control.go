// Package control holds the single active control channel that is told about
// new native sessions.
package control

import (
	"sync"

	"github.com/sirupsen/logrus"

	"peabody.computer/peabody/channel"
	"peabody.computer/peabody/common"
	"peabody.computer/peabody/registry"
)

// Slot holds at most one active control channel.
type Slot struct {
	m sync.Mutex
	// +checklocks:m
	active channel.Channel
	// +checklocks:m
	closed bool
}

// SetActive makes ch the active control channel. Any previous occupant is
// closed with a normal closure first. Once the slot is closed ch is closed
// going-away instead and SetActive returns false.
func (s *Slot) SetActive(ch channel.Channel) bool {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		ch.Close(channel.CloseGoingAway, "server shutting down")
		return false
	}
	prev := s.active
	s.active = ch
	s.m.Unlock()
	if prev != nil && prev != ch {
		logrus.Info("control: replacing active control channel")
		prev.Close(channel.CloseNormal, "replaced by a new control channel")
	}
	return true
}

// Release clears the slot if ch is still the active channel. It reports
// whether the slot was cleared.
func (s *Slot) Release(ch channel.Channel) bool {
	s.m.Lock()
	defer s.m.Unlock()
	if s.active != ch {
		return false
	}
	s.active = nil
	return true
}

// Active reports whether a control channel is registered.
func (s *Slot) Active() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.active != nil
}

// NotifyNewSession tells the active control channel that session id is
// waiting to be paired. Without an active channel the notification is
// dropped. It reports whether the message was sent.
func (s *Slot) NotifyNewSession(id registry.ID) bool {
	s.m.Lock()
	ch := s.active
	s.m.Unlock()
	if ch == nil {
		logrus.Warnf("control: no control channel, dropping notification for session %d", id)
		return false
	}
	msg := common.ClientRoute + id.String()
	if err := ch.WriteMessage(channel.TextMessage, []byte(msg)); err != nil {
		logrus.Errorf("control: unable to notify session %d: %v", id, err)
		return false
	}
	logrus.Debugf("control: sent %s", msg)
	return true
}

// Serve makes ch the active control channel and blocks until it closes.
// Messages from the control peer carry no meaning and are discarded.
func (s *Slot) Serve(ch channel.Channel) {
	if !s.SetActive(ch) {
		return
	}
	for {
		_, _, err := ch.ReadMessage()
		if err != nil {
			logrus.Debugf("control: channel ended: %v", err)
			break
		}
	}
	if s.Release(ch) {
		logrus.Info("control: control channel closed")
	}
	ch.Close(channel.CloseNormal, "")
}

// Close closes the active control channel, if any. Channels offered
// afterwards are refused.
func (s *Slot) Close() {
	s.m.Lock()
	ch := s.active
	s.active = nil
	s.closed = true
	s.m.Unlock()
	if ch != nil {
		ch.Close(channel.CloseGoingAway, "server shutting down")
	}
}
