// Package session owns the data-source connection lifecycle: connect,
// authenticate-check, heartbeat, reconnect with backoff, and request id
// sequencing.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/pace"
)

var (
	ErrNotReady     = errors.New("session not ready")
	ErrAuthRequired = errors.New("session requires external authentication")
)

// State is the session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Source is the abstract data source the manager drives. Concrete wire
// protocols live behind this interface.
type Source interface {
	Connect(ctx context.Context) error
	// NextEvent blocks for the next parsed domain event. io.EOF marks a
	// clean end of stream; any other error is a transport fault.
	NextEvent(ctx context.Context) (model.Event, error)
	IsReady() bool
	SendHeartbeat(ctx context.Context) error
	// AllocateID hints the starting request id for a fresh session.
	AllocateID() int64
	Close() error
}

// Publisher receives the session's parsed events.
type Publisher interface {
	Publish(model.Event)
}

// Config tunes the session lifecycle.
type Config struct {
	Name              string        `yaml:"name"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatMisses   int           `yaml:"heartbeatMisses"`
	ReadyTimeout      time.Duration `yaml:"readyTimeout"`
	Backoff           Backoff       `yaml:"backoff"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "session"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.HeartbeatMisses <= 0 {
		c.HeartbeatMisses = 3
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 15 * time.Second
	}
	if c.Backoff.Min == 0 && c.Backoff.Max == 0 && c.Backoff.Factor == 0 && c.Backoff.Jitter == 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Manager runs the connection state machine and pumps source events to
// the publisher, paced by the limiter.
type Manager struct {
	cfg     Config
	src     Source
	pub     Publisher
	limiter *pace.Limiter
	metrics *obs.Metrics

	state atomic.Int32

	mu        sync.Mutex
	nextID    int64
	highWater int64

	// OnAuthFailure is invoked when the source demands external
	// interaction (e.g. a manual login). Reconnects continue with
	// lengthening backoff. Optional.
	OnAuthFailure func(error)
}

// NewManager builds a session manager. metrics may be nil.
func NewManager(cfg Config, src Source, pub Publisher, limiter *pace.Limiter, metrics *obs.Metrics) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		src:     src,
		pub:     pub,
		limiter: limiter,
		metrics: metrics,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// NextID allocates the next request/order id. Ids are strictly increasing
// within the process, never reused, and only issued while the session is
// ready.
func (m *Manager) NextID() (int64, error) {
	if m.State() != StateReady {
		return 0, ErrNotReady
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	if id > m.highWater {
		m.highWater = id
	}
	return id, nil
}

// resetSequence seeds the id sequence for a fresh session. The source's
// hint is honored only when it stays above every id already issued, so
// post-reconnect ids are always strictly greater than pre-failure ones.
func (m *Manager) resetSequence() {
	m.mu.Lock()
	defer m.mu.Unlock()
	seed := m.src.AllocateID()
	if seed <= m.highWater {
		seed = m.highWater + 1
	}
	m.nextID = seed
}

// Run drives the connect/ready/receive cycle until ctx is canceled. It
// retries transport faults indefinitely with capped, jittered backoff;
// backoff waits unblock promptly on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}

		m.setState(StateConnecting)
		if err := m.src.Connect(ctx); err != nil {
			m.setState(StateDisconnected)
			if errors.Is(err, ErrAuthRequired) {
				if m.OnAuthFailure != nil {
					m.OnAuthFailure(err)
				}
				logs.Errorf("%s: authentication required, err: %+v", m.cfg.Name, err)
			} else {
				logs.Errorf("%s: connect failed, err: %+v", m.cfg.Name, err)
			}
			attempt++
			m.metrics.IncSessionReconnect()
			m.setState(StateReconnecting)
			if !m.sleepBackoff(ctx, attempt) {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			continue
		}

		m.setState(StateAuthenticating)
		if !m.waitReady(ctx) {
			_ = m.src.Close()
			m.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			m.metrics.IncSessionReconnect()
			m.setState(StateReconnecting)
			if !m.sleepBackoff(ctx, attempt) {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			continue
		}

		m.resetSequence()
		m.setState(StateReady)
		attempt = 0
		logs.Infof("%s: ready", m.cfg.Name)
		m.pub.Publish(model.NewEvent(model.KindSessionUp, "", m.cfg.Name, time.Now().UTC(), nil))

		err := m.runSession(ctx)
		m.setState(StateDisconnected)
		_ = m.src.Close()
		m.pub.Publish(model.NewEvent(model.KindSessionDown, "", m.cfg.Name, time.Now().UTC(), nil))

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Errorf("%s: session ended, err: %+v", m.cfg.Name, err)
		attempt++
		m.metrics.IncSessionReconnect()
		m.setState(StateReconnecting)
		if !m.sleepBackoff(ctx, attempt) {
			m.setState(StateDisconnected)
			return ctx.Err()
		}
	}
}

// waitReady polls the source's session-established signal until the ready
// timeout elapses.
func (m *Manager) waitReady(ctx context.Context) bool {
	deadline := time.Now().Add(m.cfg.ReadyTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.src.IsReady() {
			return true
		}
		if time.Now().After(deadline) {
			logs.Errorf("%s: source not ready within %s", m.cfg.Name, m.cfg.ReadyTimeout)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// runSession pumps events while a heartbeat watchdog supervises the
// connection. It returns when the transport faults, the stream ends, the
// watchdog trips, or ctx is canceled.
func (m *Manager) runSession(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.heartbeat(sessionCtx, cancel)
	}()
	defer wg.Wait()

	for {
		if err := m.limiter.Acquire(sessionCtx, 1); err != nil {
			return context.Cause(sessionCtx)
		}
		event, err := m.src.NextEvent(sessionCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				cancel(io.EOF)
				return io.EOF
			}
			cancel(err)
			return err
		}
		if event.Kind == "" {
			// Malformed payload: drop the event, keep the session.
			m.metrics.IncDropped()
			logs.Errorf("%s: dropped event without kind from %s", m.cfg.Name, event.Source)
			continue
		}
		m.pub.Publish(event)
	}
}

// heartbeat emits on a fixed interval; the configured number of
// consecutive missed acknowledgments forces a disconnect.
func (m *Manager) heartbeat(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.src.SendHeartbeat(ctx); err != nil {
				misses++
				logs.Errorf("%s: heartbeat miss %d/%d, err: %+v", m.cfg.Name, misses, m.cfg.HeartbeatMisses, err)
				if misses >= m.cfg.HeartbeatMisses {
					cancel(errors.New("heartbeat lost"))
					return
				}
				continue
			}
			misses = 0
		}
	}
}

// sleepBackoff waits for the attempt's backoff delay, returning false if
// ctx was canceled first.
func (m *Manager) sleepBackoff(ctx context.Context, attempt int) bool {
	wait := m.cfg.Backoff.Next(attempt)
	logs.Infof("%s: reconnecting in %s (attempt %d)", m.cfg.Name, wait, attempt)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
