// Package value implements an example value strategy: a liquidity screen
// over market cap followed by a hold-only decision layer. It exists to
// exercise the full data → pipeline → decision path.
package value

import (
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/pipeline"
)

// Config tunes the example strategy.
type Config struct {
	AllocatedCapital float64 `yaml:"allocatedCapital"`
	MinMarketCap     float64 `yaml:"minMarketCap"`
}

// Strategy screens by market cap and always holds. It caches the latest
// price and fundamentals per symbol and runs the pipeline once both are
// known.
type Strategy struct {
	cfg    Config
	runner *pipeline.Runner

	mu           sync.Mutex
	prices       map[string]float64
	fundamentals map[string]model.Document
	positions    map[string]model.Position
}

// New builds the strategy with its two-layer pipeline.
func New(cfg Config) *Strategy {
	if cfg.MinMarketCap <= 0 {
		cfg.MinMarketCap = 1_000_000_000
	}
	return &Strategy{
		cfg: cfg,
		runner: pipeline.NewRunner([]pipeline.Layer{
			NewLiquidityScreen(cfg.MinMarketCap),
			NewDecisionLayer(),
		}, nil),
		prices:       make(map[string]float64),
		fundamentals: make(map[string]model.Document),
		positions:    make(map[string]model.Position),
	}
}

func (s *Strategy) Name() string { return "example_value" }

func (s *Strategy) Subscriptions() []string {
	return []string{model.KindFundamental, model.KindPriceBar}
}

// OnEvent updates cached market data and runs the pipeline once price and
// fundamentals are both available for the symbol.
func (s *Strategy) OnEvent(event model.Event) []model.Decision {
	if event.Key == "" {
		return nil
	}
	symbol := event.Key

	s.mu.Lock()
	switch event.Kind {
	case model.KindPriceBar:
		if close, ok := floatPayload(event.Payload, "close"); ok {
			s.prices[symbol] = close
		}
	case model.KindFundamental:
		s.fundamentals[symbol] = model.Document{
			Symbol: symbol,
			AsOf:   event.OccurredAt,
			Fields: event.Payload,
		}
	}
	price, hasPrice := s.prices[symbol]
	fundamental, hasFundamental := s.fundamentals[symbol]
	s.mu.Unlock()

	if !hasPrice || !hasFundamental {
		return nil
	}

	passed, final, reasoning := s.runner.Run(symbol, map[string]any{
		"price":       price,
		"fundamental": fundamental,
	})
	if !passed {
		logs.Infof("%s: %s rejected by pipeline", s.Name(), symbol)
		return nil
	}

	action := model.ActionHold
	if a, ok := final["action"].(model.Action); ok {
		action = a
	}
	return []model.Decision{{
		Symbol:       symbol,
		Action:       action,
		TargetWeight: 0,
		Confidence:   1,
		Reasoning:    reasoning,
	}}
}

// State snapshots cached prices and positions.
func (s *Strategy) State() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	prices := make(map[string]any, len(s.prices))
	for symbol, price := range s.prices {
		prices[symbol] = price
	}
	positions := make(map[string]any, len(s.positions))
	for symbol, pos := range s.positions {
		positions[symbol] = map[string]any{
			"symbol":       pos.Symbol,
			"quantity":     pos.Quantity,
			"avgCost":      pos.AvgCost,
			"currentPrice": pos.CurrentPrice,
		}
	}
	return map[string]any{"prices": prices, "positions": positions}
}

// LoadState restores a snapshot produced by State, tolerating the float64
// shapes JSON round-trips produce.
func (s *Strategy) LoadState(state map[string]any) {
	if state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prices, ok := state["prices"].(map[string]any); ok {
		for symbol, v := range prices {
			if price, ok := toFloat(v); ok {
				s.prices[symbol] = price
			}
		}
	}
	if positions, ok := state["positions"].(map[string]any); ok {
		for symbol, v := range positions {
			fields, ok := v.(map[string]any)
			if !ok {
				continue
			}
			pos := model.Position{Symbol: symbol}
			if qty, ok := toFloat(fields["quantity"]); ok {
				pos.Quantity = int64(qty)
			}
			if avg, ok := toFloat(fields["avgCost"]); ok {
				pos.AvgCost = avg
			}
			if cur, ok := toFloat(fields["currentPrice"]); ok {
				pos.CurrentPrice = cur
			}
			s.positions[symbol] = pos
		}
	}
	logs.Infof("%s: restored %d prices, %d positions", s.Name(), len(s.prices), len(s.positions))
}

func floatPayload(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	return toFloat(payload[key])
}

func toFloat(v any) (float64, bool) {
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
