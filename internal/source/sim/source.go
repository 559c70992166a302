// Package sim provides a scripted in-memory data source for paper runs
// and tests.
package sim

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"main/internal/model"
)

var errSimConnect = errors.New("sim: connect refused")

// Source implements session.Source from an in-memory event stream.
// Failures are injectable for exercising the reconnect path.
type Source struct {
	mu     sync.Mutex
	ch     chan model.Event
	ended  bool
	nextID atomic.Int64

	connected    atomic.Bool
	failConnects atomic.Int32
	heartbeatErr atomic.Value
}

// New builds a source whose ids start at seed.
func New(seed int64) *Source {
	s := &Source{ch: make(chan model.Event, 256)}
	s.nextID.Store(seed)
	return s
}

// FailNextConnects makes the next n Connect calls fail.
func (s *Source) FailNextConnects(n int) {
	s.failConnects.Store(int32(n))
}

// SetHeartbeatErr injects a heartbeat failure; nil clears it.
func (s *Source) SetHeartbeatErr(err error) {
	s.heartbeatErr.Store(&err)
}

// Push appends one event to the stream.
func (s *Source) Push(event model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ch <- event
}

// End closes the stream; NextEvent reports io.EOF once drained.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
}

func (s *Source) Connect(ctx context.Context) error {
	if s.failConnects.Add(-1) >= 0 {
		return errSimConnect
	}
	s.failConnects.Store(0)
	s.connected.Store(true)
	return nil
}

func (s *Source) NextEvent(ctx context.Context) (model.Event, error) {
	select {
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	case event, ok := <-s.ch:
		if !ok {
			return model.Event{}, io.EOF
		}
		return event, nil
	}
}

func (s *Source) IsReady() bool {
	return s.connected.Load()
}

func (s *Source) SendHeartbeat(ctx context.Context) error {
	if v := s.heartbeatErr.Load(); v != nil {
		if err := *v.(*error); err != nil {
			return err
		}
	}
	return nil
}

// AllocateID returns a fresh id hint, advancing on every connect cycle.
func (s *Source) AllocateID() int64 {
	return s.nextID.Add(1)
}

func (s *Source) Close() error {
	s.connected.Store(false)
	return nil
}
