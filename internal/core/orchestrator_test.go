package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"main/internal/bus"
	"main/internal/gateway"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/pace"
	"main/internal/risk"
	"main/internal/session"
	"main/internal/source/sim"
	"main/internal/store"
	"main/internal/strategy"
)

// enterOnce emits one ENTER decision for the first price bar it sees,
// then holds.
type enterOnce struct {
	fired atomic.Bool
}

func (s *enterOnce) Name() string            { return "enter_once" }
func (s *enterOnce) Subscriptions() []string { return []string{model.KindPriceBar} }

func (s *enterOnce) OnEvent(event model.Event) []model.Decision {
	if !s.fired.CompareAndSwap(false, true) {
		return nil
	}
	return []model.Decision{{
		Symbol:       event.Key,
		Action:       model.ActionEnter,
		TargetWeight: 1,
		Confidence:   1,
		Reasoning:    "test entry",
	}}
}

func (s *enterOnce) State() map[string]any    { return map[string]any{"fired": s.fired.Load()} }
func (s *enterOnce) LoadState(map[string]any) {}

type harness struct {
	src      *sim.Source
	sessions *session.Manager
	paper    *gateway.Paper
	orch     *Orchestrator
	dir      string
}

func newHarness(t *testing.T, riskCfg risk.Config) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	limiter, err := pace.New(pace.Config{EventsPerWindow: 1000, Window: time.Second})
	if err != nil {
		t.Fatalf("limiter failed: %v", err)
	}

	metrics := obs.NewMetrics()
	router := bus.NewRouter(metrics)
	src := sim.New(100)
	sessions := session.NewManager(session.Config{
		Name:         "test",
		ReadyTimeout: time.Second,
		Backoff:      session.Backoff{Min: 2 * time.Millisecond, Max: 10 * time.Millisecond, Factor: 2},
	}, src, router, limiter, metrics)
	paper := gateway.NewPaper(0)

	orch, err := New(Config{
		CheckpointInterval: time.Hour,
		ShutdownTimeout:    time.Second,
	}, Deps{
		Router:   router,
		Store:    st,
		Gateway:  paper,
		Risk:     risk.NewEngine(riskCfg),
		Sessions: sessions,
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("orchestrator failed: %v", err)
	}
	return &harness{src: src, sessions: sessions, paper: paper, orch: orch, dir: dir}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func priceBar(symbol string, close float64) model.Event {
	return model.NewEvent(model.KindPriceBar, symbol, "sim", time.Now().UTC(), map[string]any{
		"open": close, "high": close, "low": close, "close": close, "volume": 1000.0,
	})
}

func TestDecisionFlowsToFilledOrder(t *testing.T) {
	h := newHarness(t, risk.Config{})
	if err := h.orch.AddStrategy(&enterOnce{}, 10_000); err != nil {
		t.Fatalf("add strategy failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	if !waitUntil(t, 2*time.Second, func() bool { return h.sessions.State() == session.StateReady }) {
		t.Fatal("session never became ready")
	}

	h.src.Push(priceBar("AAPL", 100))

	if !waitUntil(t, 2*time.Second, func() bool {
		return h.orch.Positions()["AAPL"].Quantity == 100
	}) {
		t.Fatalf("position never filled, got %+v", h.orch.Positions())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	// Shutdown checkpointed positions; a fresh store over the same
	// directory must see them.
	st, err := store.NewFileStore(h.dir)
	if err != nil {
		t.Fatalf("reopen store failed: %v", err)
	}
	state, err := st.LoadState("orchestrator")
	if err != nil {
		t.Fatalf("load state failed: %v", err)
	}
	if state == nil {
		t.Fatal("orchestrator state missing after shutdown")
	}
}

func TestRiskDenialBlocksOrder(t *testing.T) {
	h := newHarness(t, risk.Config{KillSwitch: true})
	if err := h.orch.AddStrategy(&enterOnce{}, 10_000); err != nil {
		t.Fatalf("add strategy failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	if !waitUntil(t, 2*time.Second, func() bool { return h.sessions.State() == session.StateReady }) {
		t.Fatal("session never became ready")
	}

	h.src.Push(priceBar("AAPL", 100))
	h.src.Push(priceBar("AAPL", 101))

	if !waitUntil(t, time.Second, func() bool {
		return h.orch.deps.Metrics.Snapshot().OrdersRejected >= 1
	}) {
		t.Fatal("risk denial never recorded")
	}
	if got := h.orch.Positions()["AAPL"].Quantity; got != 0 {
		t.Fatalf("position should stay flat, got %d", got)
	}
	if got := h.orch.deps.Metrics.Snapshot().OrdersSubmitted; got != 0 {
		t.Fatalf("no order should reach the gateway, got %d", got)
	}

	cancel()
	<-done
}

func TestEventsArePersisted(t *testing.T) {
	h := newHarness(t, risk.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	if !waitUntil(t, 2*time.Second, func() bool { return h.sessions.State() == session.StateReady }) {
		t.Fatal("session never became ready")
	}

	h.src.Push(priceBar("AAPL", 100))
	h.src.Push(priceBar("AAPL", 101))

	cancel()
	<-done

	st, err := store.NewFileStore(h.dir)
	if err != nil {
		t.Fatalf("reopen store failed: %v", err)
	}
	now := time.Now().UTC()
	bars, err := st.ReadBars("AAPL", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("read bars failed: %v", err)
	}
	if len(bars) == 0 {
		t.Fatal("price bars were not persisted")
	}
	events, err := st.ReadEvents(now.Add(-time.Minute), now.Add(time.Minute), []string{model.KindPriceBar})
	if err != nil {
		t.Fatalf("read events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("event count mismatch! should be 2 but got %d", len(events))
	}
}

func TestAddAndRemoveStrategyAtRuntime(t *testing.T) {
	h := newHarness(t, risk.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	if !waitUntil(t, 2*time.Second, func() bool { return h.sessions.State() == session.StateReady }) {
		t.Fatal("session never became ready")
	}

	strat := &enterOnce{}
	if err := h.orch.AddStrategy(strat, 10_000); err != nil {
		t.Fatalf("add at runtime failed: %v", err)
	}
	if err := h.orch.AddStrategy(&enterOnce{}, 10_000); err == nil {
		t.Fatal("duplicate strategy name should fail")
	}

	if err := h.orch.RemoveStrategy("enter_once"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := h.orch.RemoveStrategy("enter_once"); err == nil {
		t.Fatal("removing an absent strategy should fail")
	}

	// Detached strategy no longer receives events.
	h.src.Push(priceBar("AAPL", 100))
	time.Sleep(50 * time.Millisecond)
	if strat.fired.Load() {
		t.Fatal("removed strategy still received events")
	}

	cancel()
	<-done
}

var _ strategy.Strategy = (*enterOnce)(nil)
