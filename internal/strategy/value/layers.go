package value

import (
	"fmt"

	"main/internal/model"
)

// LiquidityScreen passes symbols whose market cap clears a minimum
// threshold. It needs "price" and "fundamental" in the context and adds
// "market_cap" for later layers.
type LiquidityScreen struct {
	minMarketCap float64
}

// NewLiquidityScreen builds the screen with the given threshold.
func NewLiquidityScreen(minMarketCap float64) *LiquidityScreen {
	return &LiquidityScreen{minMarketCap: minMarketCap}
}

func (l *LiquidityScreen) Name() string { return "liquidity_screen" }

func (l *LiquidityScreen) Process(symbol string, context map[string]any) model.LayerResult {
	fundamental, ok := context["fundamental"].(model.Document)
	if !ok {
		return model.LayerResult{
			Context:   context,
			Reasoning: fmt.Sprintf("missing fundamental data for %s", symbol),
		}
	}
	price, ok := toFloat(context["price"])
	if !ok {
		return model.LayerResult{
			Context:   context,
			Reasoning: fmt.Sprintf("missing price data for %s", symbol),
		}
	}
	shares, ok := fundamental.FloatField("shares_outstanding")
	if !ok {
		return model.LayerResult{
			Context:   context,
			Reasoning: fmt.Sprintf("missing shares outstanding for %s", symbol),
		}
	}

	marketCap := price * shares
	context["market_cap"] = marketCap
	if marketCap < l.minMarketCap {
		return model.LayerResult{
			Context:   context,
			Reasoning: fmt.Sprintf("%s market cap %.0f below threshold %.0f", symbol, marketCap, l.minMarketCap),
		}
	}
	return model.LayerResult{
		Passed:    true,
		Context:   context,
		Reasoning: fmt.Sprintf("%s market cap %.0f above threshold %.0f", symbol, marketCap, l.minMarketCap),
	}
}

// DecisionLayer is the terminal layer of the example strategy; it always
// holds.
type DecisionLayer struct{}

// NewDecisionLayer builds the layer.
func NewDecisionLayer() *DecisionLayer {
	return &DecisionLayer{}
}

func (d *DecisionLayer) Name() string { return "decision_layer" }

func (d *DecisionLayer) Process(symbol string, context map[string]any) model.LayerResult {
	context["action"] = model.ActionHold
	marketCap, _ := toFloat(context["market_cap"])
	return model.LayerResult{
		Passed:    true,
		Context:   context,
		Reasoning: fmt.Sprintf("%s passed all screens, decision: HOLD (market cap %.0f)", symbol, marketCap),
	}
}
