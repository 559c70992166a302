package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/model"
)

// Paper simulates execution against reference prices: market orders fill
// immediately, limit orders fill only when the limit crosses the
// reference, everything else rests as SUBMITTED.
type Paper struct {
	mu        sync.Mutex
	prices    map[string]float64
	state     *StateMachine
	connected atomic.Bool
	slipBps   float64
}

// NewPaper builds a connected paper gateway. slippageBps widens market
// fills against the taker.
func NewPaper(slippageBps float64) *Paper {
	p := &Paper{
		prices:  make(map[string]float64),
		state:   NewStateMachine(),
		slipBps: slippageBps,
	}
	p.connected.Store(true)
	return p
}

// SetPrice updates the reference price used for fills.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetConnected toggles the simulated transport.
func (p *Paper) SetConnected(up bool) {
	p.connected.Store(up)
}

// Submit registers the order and resolves it against the reference price.
// A rejection is a normal outcome carried in the status.
func (p *Paper) Submit(ctx context.Context, id int64, req model.OrderRequest) (model.OrderOutcome, error) {
	if !p.connected.Load() {
		return model.OrderOutcome{
			RequestID: id,
			Status:    model.OrderStatusRejected,
			Message:   "cannot submit order: not connected",
		}, nil
	}
	if req.Quantity <= 0 {
		return model.OrderOutcome{
			RequestID: id,
			Status:    model.OrderStatusRejected,
			Message:   fmt.Sprintf("invalid quantity %d", req.Quantity),
		}, nil
	}
	if err := p.state.Track(id, req); err != nil {
		return model.OrderOutcome{}, err
	}

	p.mu.Lock()
	ref, ok := p.prices[req.Symbol]
	p.mu.Unlock()
	if !ok {
		outcome := model.OrderOutcome{
			RequestID: id,
			Status:    model.OrderStatusRejected,
			Message:   fmt.Sprintf("no reference price for %s", req.Symbol),
		}
		_ = p.state.Apply(outcome)
		return outcome, nil
	}

	outcome := p.resolve(id, req, ref)
	_ = p.state.Apply(outcome)
	logs.Infof("paper order %d: %s %d %s -> %s", id, req.Side, req.Quantity, req.Symbol, outcome.Status)
	return outcome, nil
}

func (p *Paper) resolve(id int64, req model.OrderRequest, ref float64) model.OrderOutcome {
	fill := ref
	if p.slipBps > 0 {
		adj := ref * p.slipBps / 10_000
		if req.Side == model.OrderSideBuy {
			fill = ref + adj
		} else {
			fill = ref - adj
		}
	}

	switch req.Kind {
	case model.OrderKindMarket:
		return model.OrderOutcome{
			RequestID:    id,
			Status:       model.OrderStatusFilled,
			FillPrice:    fill,
			FillQuantity: req.Quantity,
		}
	case model.OrderKindLimit:
		crosses := (req.Side == model.OrderSideBuy && req.LimitPrice >= ref) ||
			(req.Side == model.OrderSideSell && req.LimitPrice <= ref)
		if crosses {
			return model.OrderOutcome{
				RequestID:    id,
				Status:       model.OrderStatusFilled,
				FillPrice:    ref,
				FillQuantity: req.Quantity,
			}
		}
		return model.OrderOutcome{RequestID: id, Status: model.OrderStatusSubmitted}
	default:
		return model.OrderOutcome{
			RequestID: id,
			Status:    model.OrderStatusRejected,
			Message:   fmt.Sprintf("unsupported order kind %q", req.Kind),
		}
	}
}

// Cancel cancels a resting order. Terminal orders cannot be canceled.
func (p *Paper) Cancel(ctx context.Context, id int64) bool {
	if !p.connected.Load() {
		return false
	}
	err := p.state.Apply(model.OrderOutcome{
		RequestID: id,
		Status:    model.OrderStatusCancelled,
		Message:   "canceled by request",
	})
	return err == nil
}

// Status returns the gateway's current view of the order. Unknown ids
// report UNKNOWN.
func (p *Paper) Status(ctx context.Context, id int64) model.OrderOutcome {
	outcome, ok := p.state.Outcome(id)
	if !ok {
		return model.OrderOutcome{RequestID: id, Status: model.OrderStatusUnknown, Message: "order not found"}
	}
	return outcome
}

// Pending exposes unresolved orders, e.g. for shutdown auditing.
func (p *Paper) Pending() []Order {
	return p.state.Pending()
}
