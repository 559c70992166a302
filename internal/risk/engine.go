// Package risk applies pre-trade checks between a strategy decision and
// order submission.
package risk

import (
	"fmt"

	"main/internal/model"
)

// Config defines static pre-trade limits. Zero values disable a check.
type Config struct {
	KillSwitch       bool    `yaml:"killSwitch"`
	MaxOrderQty      int64   `yaml:"maxOrderQty"`
	MaxOrderNotional float64 `yaml:"maxOrderNotional"`
	MaxPosition      int64   `yaml:"maxPosition"`
}

// Reason explains a denial.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonKillSwitch    Reason = "kill_switch"
	ReasonMaxQty        Reason = "max_order_qty"
	ReasonMaxNotional   Reason = "max_order_notional"
	ReasonPositionLimit Reason = "position_limit"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

// StateView is the position snapshot the checks run against.
type StateView struct {
	Position       int64
	ReferencePrice float64
}

// Engine evaluates order requests against configured limits.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate applies the configured checks to an order request.
func (e *Engine) Evaluate(req model.OrderRequest, state StateView) Decision {
	if e.cfg.KillSwitch {
		return Decision{Reason: ReasonKillSwitch, Detail: "kill switch engaged"}
	}

	if e.cfg.MaxOrderQty > 0 && req.Quantity > e.cfg.MaxOrderQty {
		return Decision{
			Reason: ReasonMaxQty,
			Detail: fmt.Sprintf("qty %d exceeds limit %d", req.Quantity, e.cfg.MaxOrderQty),
		}
	}

	price := req.LimitPrice
	if price == 0 {
		price = state.ReferencePrice
	}
	if e.cfg.MaxOrderNotional > 0 && price > 0 {
		notional := price * float64(req.Quantity)
		if notional > e.cfg.MaxOrderNotional {
			return Decision{
				Reason: ReasonMaxNotional,
				Detail: fmt.Sprintf("notional %.2f exceeds limit %.2f", notional, e.cfg.MaxOrderNotional),
			}
		}
	}

	if e.cfg.MaxPosition > 0 {
		next := state.Position
		switch req.Side {
		case model.OrderSideBuy:
			next += req.Quantity
		case model.OrderSideSell:
			next -= req.Quantity
		}
		if next < 0 {
			next = -next
		}
		if next > e.cfg.MaxPosition {
			return Decision{
				Reason: ReasonPositionLimit,
				Detail: fmt.Sprintf("position after fill %d exceeds limit %d", next, e.cfg.MaxPosition),
			}
		}
	}

	return Decision{Allowed: true}
}
