/*
Core wires the runtime together: it pumps session events through the
router, records them, fans decisions out of strategies, applies risk
checks, places orders through the gateway, and checkpoints state.

# Source
 1. market data and session events from the session manager
 2. order outcomes republished after gateway submission

# Produce
  - persisted bars, documents, events, and audit trails
  - order requests to the execution gateway
*/
package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/gateway"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/session"
	"main/internal/store"
	"main/internal/strategy"
	"main/pkg/exception"
)

const stateOwner = "orchestrator"

// Config tunes the orchestrator's background work.
type Config struct {
	CheckpointInterval time.Duration
	ShutdownTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Deps are the collaborators the orchestrator drives. All are required
// except Metrics.
type Deps struct {
	Router   *bus.Router
	Store    store.Store
	Gateway  gateway.Gateway
	Risk     *risk.Engine
	Sessions *session.Manager
	Metrics  *obs.Metrics
}

type strategyEntry struct {
	strat   strategy.Strategy
	token   bus.Token
	capital float64
}

// Orchestrator owns the lifecycle of one trading process.
type Orchestrator struct {
	cfg  Config
	deps Deps

	started atomic.Bool
	closed  atomic.Bool

	runCtx context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	strategies map[string]*strategyEntry
	positions  map[string]model.Position
	prices     map[string]float64
}

// New builds an orchestrator; nothing runs until Run.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Router == nil || deps.Store == nil || deps.Gateway == nil || deps.Risk == nil || deps.Sessions == nil {
		return nil, exception.ErrNilInstance
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg.withDefaults(),
		deps:       deps,
		runCtx:     ctx,
		cancel:     cancel,
		strategies: make(map[string]*strategyEntry),
		positions:  make(map[string]model.Position),
		prices:     make(map[string]float64),
	}
	// Registered before any strategy so reference prices are current by
	// the time a strategy sees the same event.
	deps.Router.Subscribe("recorder", []string{model.KindAny}, o.record)
	return o, nil
}

// AddStrategy registers a strategy, restores its persisted state, and
// subscribes it to its event kinds. Safe to call while running.
func (o *Orchestrator) AddStrategy(strat strategy.Strategy, allocatedCapital float64) error {
	name := strat.Name()

	o.mu.Lock()
	if _, ok := o.strategies[name]; ok {
		o.mu.Unlock()
		return exception.ErrAlreadyStarted
	}
	entry := &strategyEntry{strat: strat, capital: allocatedCapital}
	o.strategies[name] = entry
	o.mu.Unlock()

	state, err := o.deps.Store.LoadState(name)
	if err != nil {
		logs.Errorf("load state for %s, err: %+v", name, err)
	}
	if state != nil {
		strat.LoadState(state)
	}

	entry.token = o.deps.Router.Subscribe(name, strat.Subscriptions(), func(event model.Event) error {
		o.deps.Metrics.ObserveDelivery(time.Since(event.ObservedAt))
		for _, decision := range strat.OnEvent(event) {
			o.handleDecision(name, entry.capital, decision)
		}
		return nil
	})
	logs.Infof("strategy %s registered", name)
	return nil
}

// RemoveStrategy unsubscribes the strategy and checkpoints its final
// state.
func (o *Orchestrator) RemoveStrategy(name string) error {
	o.mu.Lock()
	entry, ok := o.strategies[name]
	if ok {
		delete(o.strategies, name)
	}
	o.mu.Unlock()
	if !ok {
		return exception.ErrInvalidArgument
	}
	o.deps.Router.Unsubscribe(entry.token)
	o.saveState(name, entry.strat.State())
	logs.Infof("strategy %s removed", name)
	return nil
}

// Run starts the session manager and checkpoint loop, then blocks until
// ctx is canceled and the shutdown sequence finishes.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return exception.ErrAlreadyStarted
	}
	o.restore()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.deps.Sessions.Run(o.runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logs.Errorf("session manager stopped, err: %+v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.checkpointLoop()
	}()

	select {
	case <-ctx.Done():
		o.cancel()
	case <-o.runCtx.Done():
	}
	wg.Wait()
	return o.shutdown()
}

// Stop triggers the shutdown sequence from another goroutine.
func (o *Orchestrator) Stop() {
	o.cancel()
}

// record persists every routed event and maintains reference prices.
func (o *Orchestrator) record(event model.Event) error {
	if err := o.deps.Store.WriteEvent(event); err != nil {
		o.deps.Metrics.IncStoreWriteError()
		logs.Errorf("persist %s event, err: %+v", event.Kind, err)
	}

	switch event.Kind {
	case model.KindPriceBar:
		bar, ok := barFromPayload(event.Key, event.OccurredAt, event.Payload)
		if !ok {
			return nil
		}
		o.setPrice(bar.Symbol, bar.Close)
		if err := o.deps.Store.WriteBars(bar.Symbol, []model.PriceBar{bar}); err != nil {
			o.deps.Metrics.IncStoreWriteError()
			logs.Errorf("persist bar for %s, err: %+v", bar.Symbol, err)
		}
	case model.KindFundamental:
		doc := model.Document{Symbol: event.Key, AsOf: event.OccurredAt, Fields: event.Payload}
		if err := o.deps.Store.WriteDocument(event.Key, doc); err != nil {
			o.deps.Metrics.IncStoreWriteError()
			logs.Errorf("persist document for %s, err: %+v", event.Key, err)
		}
	}
	return nil
}

func (o *Orchestrator) setPrice(symbol string, price float64) {
	o.mu.Lock()
	o.prices[symbol] = price
	if pos, ok := o.positions[symbol]; ok {
		pos.CurrentPrice = price
		o.positions[symbol] = pos
	}
	o.mu.Unlock()

	if pg, ok := o.deps.Gateway.(interface{ SetPrice(string, float64) }); ok {
		pg.SetPrice(symbol, price)
	}
}

// handleDecision audits the decision, sizes and risk-checks the order,
// submits it, and republishes the outcome as an event.
func (o *Orchestrator) handleDecision(owner string, capital float64, decision model.Decision) {
	o.audit(owner, "decisions", map[string]any{
		"symbol":       decision.Symbol,
		"action":       decision.Action,
		"targetWeight": decision.TargetWeight,
		"confidence":   decision.Confidence,
		"reasoning":    decision.Reasoning,
	})

	req, ok := o.sizeOrder(owner, capital, decision)
	if !ok {
		return
	}

	o.mu.Lock()
	view := risk.StateView{
		Position:       o.positions[req.Symbol].Quantity,
		ReferencePrice: o.prices[req.Symbol],
	}
	o.mu.Unlock()

	verdict := o.deps.Risk.Evaluate(req, view)
	if !verdict.Allowed {
		o.deps.Metrics.IncOrderRejected()
		o.audit(owner, "orders", map[string]any{
			"symbol": req.Symbol,
			"side":   req.Side,
			"qty":    req.Quantity,
			"status": model.OrderStatusRejected,
			"reason": verdict.Reason,
			"detail": verdict.Detail,
		})
		logs.Errorf("order for %s denied by risk: %s (%s)", req.Symbol, verdict.Reason, verdict.Detail)
		return
	}

	id, err := o.deps.Sessions.NextID()
	if err != nil {
		o.audit(owner, "orders", map[string]any{
			"symbol": req.Symbol,
			"side":   req.Side,
			"qty":    req.Quantity,
			"status": model.OrderStatusRejected,
			"reason": "session not ready",
		})
		logs.Errorf("order for %s skipped, err: %+v", req.Symbol, err)
		return
	}

	start := time.Now()
	outcome, err := o.deps.Gateway.Submit(o.runCtx, id, req)
	if err != nil {
		logs.Errorf("submit order %d, err: %+v", id, err)
		return
	}
	o.deps.Metrics.IncOrderSubmitted()
	o.deps.Metrics.ObserveOrderFlow(time.Since(start))
	if outcome.Status == model.OrderStatusRejected {
		o.deps.Metrics.IncOrderRejected()
	}
	if outcome.Status == model.OrderStatusFilled {
		o.applyFill(req, outcome)
	}

	o.audit(owner, "orders", map[string]any{
		"requestId": outcome.RequestID,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"qty":       req.Quantity,
		"status":    outcome.Status,
		"fillPrice": outcome.FillPrice,
		"fillQty":   outcome.FillQuantity,
		"message":   outcome.Message,
	})

	o.deps.Router.Publish(model.NewEvent(model.KindOrderOutcome, req.Symbol, stateOwner, time.Now().UTC(), map[string]any{
		"requestId": outcome.RequestID,
		"owner":     owner,
		"status":    string(outcome.Status),
		"fillPrice": outcome.FillPrice,
		"fillQty":   outcome.FillQuantity,
	}))
}

// sizeOrder converts an actionable decision into an order request. HOLD
// and unsizable decisions produce no order.
func (o *Orchestrator) sizeOrder(owner string, capital float64, decision model.Decision) (model.OrderRequest, bool) {
	o.mu.Lock()
	price := o.prices[decision.Symbol]
	held := o.positions[decision.Symbol].Quantity
	o.mu.Unlock()

	switch decision.Action {
	case model.ActionEnter:
		if price <= 0 || decision.TargetWeight <= 0 {
			return model.OrderRequest{}, false
		}
		qty := int64(capital * decision.TargetWeight / price)
		if qty <= 0 {
			return model.OrderRequest{}, false
		}
		return model.OrderRequest{
			Owner:    owner,
			Symbol:   decision.Symbol,
			Side:     model.OrderSideBuy,
			Quantity: qty,
			Kind:     model.OrderKindMarket,
		}, true
	case model.ActionExit:
		if held <= 0 {
			return model.OrderRequest{}, false
		}
		return model.OrderRequest{
			Owner:    owner,
			Symbol:   decision.Symbol,
			Side:     model.OrderSideSell,
			Quantity: held,
			Kind:     model.OrderKindMarket,
		}, true
	default:
		return model.OrderRequest{}, false
	}
}

func (o *Orchestrator) applyFill(req model.OrderRequest, outcome model.OrderOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pos := o.positions[req.Symbol]
	pos.Symbol = req.Symbol
	pos.CurrentPrice = outcome.FillPrice
	switch req.Side {
	case model.OrderSideBuy:
		total := pos.Quantity + outcome.FillQuantity
		if total > 0 {
			pos.AvgCost = (pos.AvgCost*float64(pos.Quantity) + outcome.FillPrice*float64(outcome.FillQuantity)) / float64(total)
		}
		pos.Quantity = total
	case model.OrderSideSell:
		pos.Quantity -= outcome.FillQuantity
		if pos.Quantity <= 0 {
			pos.Quantity = 0
			pos.AvgCost = 0
		}
	}
	o.positions[req.Symbol] = pos
}

// Positions returns a snapshot of current holdings.
func (o *Orchestrator) Positions() map[string]model.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]model.Position, len(o.positions))
	for symbol, pos := range o.positions {
		out[symbol] = pos
	}
	return out
}

func (o *Orchestrator) audit(owner, category string, record map[string]any) {
	if err := o.deps.Store.AppendAudit(owner, category, record); err != nil {
		o.deps.Metrics.IncStoreWriteError()
		logs.Errorf("audit %s/%s, err: %+v", owner, category, err)
	}
}

func (o *Orchestrator) checkpointLoop() {
	ticker := time.NewTicker(o.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			o.checkpoint()
		}
	}
}

// checkpoint persists every strategy's state plus the orchestrator's own
// positions.
func (o *Orchestrator) checkpoint() {
	o.mu.Lock()
	entries := make(map[string]strategy.Strategy, len(o.strategies))
	for name, entry := range o.strategies {
		entries[name] = entry.strat
	}
	positions := make(map[string]any, len(o.positions))
	for symbol, pos := range o.positions {
		positions[symbol] = map[string]any{
			"symbol":       pos.Symbol,
			"quantity":     pos.Quantity,
			"avgCost":      pos.AvgCost,
			"currentPrice": pos.CurrentPrice,
		}
	}
	o.mu.Unlock()

	for name, strat := range entries {
		o.saveState(name, strat.State())
	}
	o.saveState(stateOwner, map[string]any{"positions": positions})
}

func (o *Orchestrator) saveState(owner string, state map[string]any) {
	if err := o.deps.Store.SaveState(owner, state); err != nil {
		o.deps.Metrics.IncStoreWriteError()
		logs.Errorf("checkpoint %s, err: %+v", owner, err)
	}
}

// restore loads the orchestrator's persisted positions.
func (o *Orchestrator) restore() {
	state, err := o.deps.Store.LoadState(stateOwner)
	if err != nil {
		logs.Errorf("restore positions, err: %+v", err)
		return
	}
	if state == nil {
		return
	}
	positions, ok := state["positions"].(map[string]any)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for symbol, v := range positions {
		fields, ok := v.(map[string]any)
		if !ok {
			continue
		}
		pos := model.Position{Symbol: symbol}
		if qty, ok := asFloat(fields["quantity"]); ok {
			pos.Quantity = int64(qty)
		}
		if avg, ok := asFloat(fields["avgCost"]); ok {
			pos.AvgCost = avg
		}
		if cur, ok := asFloat(fields["currentPrice"]); ok {
			pos.CurrentPrice = cur
		}
		o.positions[symbol] = pos
	}
	logs.Infof("restored %d positions", len(o.positions))
}

// shutdown runs once: stop intake, wait out pending orders, checkpoint,
// and close the store.
func (o *Orchestrator) shutdown() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.cancel()
	logs.Info("shutting down")

	o.awaitPending()
	o.deps.Router.Close()
	o.checkpoint()
	if err := o.deps.Store.Close(); err != nil {
		logs.Errorf("close store, err: %+v", err)
	}
	logs.Info("shutdown complete")
	return nil
}

// awaitPending polls the gateway for unresolved orders up to the shutdown
// timeout; whatever remains is audited as unknown.
func (o *Orchestrator) awaitPending() {
	lister, ok := o.deps.Gateway.(interface{ Pending() []gateway.Order })
	if !ok {
		return
	}
	deadline := time.Now().Add(o.cfg.ShutdownTimeout)
	for {
		pending := lister.Pending()
		if len(pending) == 0 {
			return
		}
		if time.Now().After(deadline) {
			for _, order := range pending {
				o.audit(order.Request.Owner, "orders", map[string]any{
					"requestId": order.ID,
					"symbol":    order.Request.Symbol,
					"side":      order.Request.Side,
					"qty":       order.Request.Quantity,
					"status":    model.OrderStatusUnknown,
					"message":   "unknown-on-shutdown",
				})
			}
			logs.Errorf("%d orders unresolved at shutdown", len(pending))
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func barFromPayload(symbol string, ts time.Time, payload map[string]any) (model.PriceBar, bool) {
	if symbol == "" || payload == nil {
		return model.PriceBar{}, false
	}
	close, ok := asFloat(payload["close"])
	if !ok {
		return model.PriceBar{}, false
	}
	bar := model.PriceBar{Symbol: symbol, Timestamp: ts, Close: close}
	if v, ok := asFloat(payload["open"]); ok {
		bar.Open = v
	}
	if v, ok := asFloat(payload["high"]); ok {
		bar.High = v
	}
	if v, ok := asFloat(payload["low"]); ok {
		bar.Low = v
	}
	if v, ok := asFloat(payload["volume"]); ok {
		bar.Volume = int64(v)
	}
	return bar, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
