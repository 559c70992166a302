package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/pace"
	"main/internal/source/sim"
)

type collector struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *collector) Publish(e model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}

func (c *collector) count(kind string) int {
	n := 0
	for _, k := range c.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		Name:              "test-session",
		HeartbeatInterval: 5 * time.Millisecond,
		HeartbeatMisses:   2,
		ReadyTimeout:      time.Second,
		Backoff:           Backoff{Min: 2 * time.Millisecond, Max: 10 * time.Millisecond, Factor: 2},
	}
}

func newTestManager(t *testing.T, src *sim.Source) (*Manager, *collector, *obs.Metrics) {
	t.Helper()
	limiter, err := pace.New(pace.Config{EventsPerWindow: 1000, Window: time.Second})
	if err != nil {
		t.Fatalf("limiter failed: %v", err)
	}
	pub := &collector{}
	metrics := obs.NewMetrics()
	return NewManager(testConfig(), src, pub, limiter, metrics), pub, metrics
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNextIDRequiresReadySession(t *testing.T) {
	m, _, _ := newTestManager(t, sim.New(0))
	if _, err := m.NextID(); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestRunReachesReadyAfterConnectFailures(t *testing.T) {
	src := sim.New(0)
	src.FailNextConnects(2)
	m, pub, metrics := newTestManager(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return m.State() == StateReady })
	waitFor(t, time.Second, func() bool { return pub.count(model.KindSessionUp) >= 1 })

	if got := metrics.Snapshot().SessionReconnects; got < 2 {
		t.Fatalf("reconnect count mismatch! should be >= 2 but got %d", got)
	}
}

func TestIDsStrictlyIncreaseAcrossReconnect(t *testing.T) {
	src := sim.New(100)
	m, pub, _ := newTestManager(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateReady })

	var before int64
	for i := 0; i < 50; i++ {
		id, err := m.NextID()
		if err != nil {
			t.Fatalf("next id failed: %v", err)
		}
		if id <= before {
			t.Fatalf("ids not strictly increasing: %d after %d", id, before)
		}
		before = id
	}

	src.End()
	waitFor(t, 2*time.Second, func() bool { return pub.count(model.KindSessionDown) >= 1 })
	waitFor(t, 2*time.Second, func() bool { return pub.count(model.KindSessionUp) >= 2 })

	var after int64
	waitFor(t, 2*time.Second, func() bool {
		id, err := m.NextID()
		if err != nil {
			return false
		}
		after = id
		return true
	})
	if after <= before {
		t.Fatalf("post-reconnect id %d should exceed pre-failure id %d", after, before)
	}
}

func TestHeartbeatMissesForceReconnect(t *testing.T) {
	src := sim.New(0)
	m, pub, _ := newTestManager(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateReady })

	src.SetHeartbeatErr(errors.New("no pong"))
	waitFor(t, 2*time.Second, func() bool { return pub.count(model.KindSessionDown) >= 1 })

	src.SetHeartbeatErr(nil)
	waitFor(t, 2*time.Second, func() bool { return pub.count(model.KindSessionUp) >= 2 })
}

func TestMalformedEventsAreDropped(t *testing.T) {
	src := sim.New(0)
	m, pub, metrics := newTestManager(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateReady })

	src.Push(model.Event{})
	src.Push(model.NewEvent(model.KindPriceBar, "AAPL", "sim", time.Now().UTC(), map[string]any{"close": 100.0}))

	waitFor(t, 2*time.Second, func() bool { return pub.count(model.KindPriceBar) == 1 })
	if got := metrics.Snapshot().Dropped; got != 1 {
		t.Fatalf("dropped count mismatch! should be 1 but got %d", got)
	}
	for _, k := range pub.kinds() {
		if k == "" {
			t.Fatal("malformed event must not be published")
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	src := sim.New(0)
	m, _, _ := newTestManager(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateReady })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state mismatch! should be disconnected but got %s", m.State())
	}
}
