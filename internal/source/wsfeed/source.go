// Package wsfeed adapts a JSON-over-WebSocket market data feed to the
// session.Source contract. Frame shapes:
//
//	-> {"op":"auth","token":"..."}
//	<- {"op":"ready","nextId":123}
//	<- {"op":"event","kind":"price_bar","key":"AAPL","occurredAt":...,"payload":{...}}
//	-> {"op":"ping"}
package wsfeed

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/session"
)

// Config locates and authenticates the feed.
type Config struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	ReadPoll         time.Duration `yaml:"readPoll"`
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadPoll <= 0 {
		c.ReadPoll = time.Second
	}
	return c
}

type frame struct {
	Op         string         `json:"op"`
	Token      string         `json:"token,omitempty"`
	Code       string         `json:"code,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Key        string         `json:"key,omitempty"`
	NextID     int64          `json:"nextId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Source is a websocket-backed data source.
type Source struct {
	cfg Config

	mu     sync.Mutex
	conn   *websocket.Conn
	ready  atomic.Bool
	nextID atomic.Int64
}

// New builds the source; no connection is opened until Connect.
func New(cfg Config) *Source {
	return &Source{cfg: cfg.withDefaults()}
}

// Connect dials the feed, authenticates, and waits for the ready frame
// carrying the session's starting request id.
func (s *Source) Connect(ctx context.Context) error {
	s.ready.Store(false)
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", s.cfg.URL)
	}

	if s.cfg.Token != "" {
		if err := conn.WriteJSON(frame{Op: "auth", Token: s.cfg.Token}); err != nil {
			_ = conn.Close()
			return errors.Wrap(err, "send auth")
		}
	}

	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "read ready frame")
	}
	switch {
	case f.Op == "ready":
	case f.Op == "error" && f.Code == "auth":
		_ = conn.Close()
		return session.ErrAuthRequired
	default:
		_ = conn.Close()
		return errors.Errorf("unexpected frame op %q before ready", f.Op)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.nextID.Store(f.NextID)
	s.ready.Store(true)
	logs.Infof("wsfeed: connected to %s, next id %d", s.cfg.URL, f.NextID)
	return nil
}

// NextEvent reads frames until an event arrives. Cancellation is bounded
// by the read poll interval.
func (s *Source) NextEvent(ctx context.Context) (model.Event, error) {
	conn := s.current()
	if conn == nil {
		return model.Event{}, errors.New("wsfeed: not connected")
	}
	for {
		if ctx.Err() != nil {
			return model.Event{}, ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadPoll))
		var f frame
		err := conn.ReadJSON(&f)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return model.Event{}, errors.Wrap(err, "read frame")
		}
		switch f.Op {
		case "event":
			occurred := f.OccurredAt
			if occurred.IsZero() {
				occurred = time.Now().UTC()
			}
			return model.NewEvent(f.Kind, f.Key, "wsfeed", occurred, f.Payload), nil
		case "pong":
			continue
		default:
			logs.Infof("wsfeed: ignoring frame op %q", f.Op)
		}
	}
}

// IsReady reports whether the ready frame was received.
func (s *Source) IsReady() bool {
	return s.ready.Load()
}

// SendHeartbeat writes a ping frame. A write failure is the heartbeat
// miss signal the session manager counts.
func (s *Source) SendHeartbeat(ctx context.Context) error {
	conn := s.current()
	if conn == nil {
		return errors.New("wsfeed: not connected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := conn.WriteJSON(frame{Op: "ping"}); err != nil {
		return errors.Wrap(err, "send ping")
	}
	return nil
}

// AllocateID returns the session's starting id from the ready frame.
func (s *Source) AllocateID() int64 {
	return s.nextID.Load()
}

// Close tears down the connection.
func (s *Source) Close() error {
	s.ready.Store(false)
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Source) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
