package region

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"peabody.computer/peabody/channel"
	"peabody.computer/peabody/common"
)

// Config tunes a Service.
type Config struct {
	// Workers bounds the number of region reads in flight across every
	// channel.
	Workers int

	// MaxRowBytes bounds the width of a single requested row.
	MaxRowBytes int64
}

// Service answers region requests on region channels.
type Service struct {
	handles *Handles
	config  Config
	workers *semaphore.Weighted

	m sync.Mutex
	// +checklocks:m
	active map[channel.Channel]struct{}
	// +checklocks:m
	closed bool
}

// NewService returns a Service reading from handles.
func NewService(handles *Handles, config Config) *Service {
	if config.Workers <= 0 {
		config.Workers = common.DefaultRegionWorkers
	}
	if config.MaxRowBytes <= 0 {
		config.MaxRowBytes = common.DefaultMaxRegionRowBytes
	}
	return &Service{
		handles: handles,
		config:  config,
		workers: semaphore.NewWeighted(int64(config.Workers)),
		active:  make(map[channel.Channel]struct{}),
	}
}

func (s *Service) track(ch channel.Channel) bool {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return false
	}
	s.active[ch] = struct{}{}
	return true
}

func (s *Service) untrack(ch channel.Channel) {
	s.m.Lock()
	defer s.m.Unlock()
	delete(s.active, ch)
}

// Serve answers requests for h on ch until ch closes, then releases h. One
// request is answered completely before the next command is read.
func (s *Service) Serve(ctx context.Context, h *Handle, ch channel.Channel) {
	log := logrus.WithField("handle", h.ID)
	defer s.handles.Release(h.ID)
	if !s.track(ch) {
		ch.Close(channel.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(ch)
	defer ch.Close(channel.CloseNormal, "")

	log.Info("region: channel opened")
	for {
		messageType, data, err := ch.ReadMessage()
		if err != nil {
			log.Debugf("region: channel ended: %v", err)
			return
		}
		if messageType != channel.TextMessage {
			log.Warnf("region: ignoring frame of type %d", messageType)
			continue
		}
		req, err := ParseCommand(string(data), s.config.MaxRowBytes)
		if err != nil {
			log.Warnf("region: ignoring command %q: %v", abbreviate(data), err)
			continue
		}
		if err := s.serveRequest(ctx, h, ch, req); err != nil {
			log.Errorf("region: request %d failed: %v", req.Token, err)
			return
		}
	}
}

func (s *Service) serveRequest(ctx context.Context, h *Handle, ch channel.Channel, req *Request) error {
	row := make([]byte, req.Width)
	for r := int64(0); r < req.Height; r++ {
		offset := req.RowOffset(r)
		if err := s.readRow(ctx, h, row, offset); err != nil {
			return err
		}
		if err := ch.WriteMessage(channel.TextMessage, updateMessage(offset)); err != nil {
			return err
		}
		if err := ch.WriteMessage(channel.BinaryMessage, row); err != nil {
			return err
		}
	}
	return ch.WriteMessage(channel.TextMessage, doneMessage(req.Token))
}

// readRow fills row from offset. Bytes past the end of the descriptor read as
// zero.
func (s *Service) readRow(ctx context.Context, h *Handle, row []byte, offset int64) error {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "region: waiting for a worker")
	}
	defer s.workers.Release(1)

	clear(row)
	n, err := h.ReadAt(row, offset)
	if err != nil && err != io.EOF {
		logrus.WithField("handle", h.ID).Warnf("region: read at %d returned %d bytes: %v", offset, n, err)
	}
	return nil
}

// Close closes every channel being served. Channels opened afterwards are
// refused.
func (s *Service) Close() {
	s.m.Lock()
	s.closed = true
	active := make([]channel.Channel, 0, len(s.active))
	for ch := range s.active {
		active = append(active, ch)
	}
	s.m.Unlock()
	for _, ch := range active {
		ch.Close(channel.CloseGoingAway, "server shutting down")
	}
}

func abbreviate(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
