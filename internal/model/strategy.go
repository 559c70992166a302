package model

// Action is the direction of a strategy decision.
type Action string

const (
	ActionHold  Action = "HOLD"
	ActionEnter Action = "ENTER"
	ActionExit  Action = "EXIT"
)

// LayerResult is the outcome of one pipeline layer.
type LayerResult struct {
	Passed    bool
	Context   map[string]any
	Reasoning string
}

// Decision is the final output of a strategy for one symbol.
type Decision struct {
	Symbol       string  `json:"symbol"`
	Action       Action  `json:"action"`
	TargetWeight float64 `json:"targetWeight"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// Position is a holding tracked by a strategy.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AvgCost      float64 `json:"avgCost"`
	CurrentPrice float64 `json:"currentPrice"`
}

// MarketValue is the position's value at the current price.
func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

// UnrealizedPnL is the open profit or loss against average cost.
func (p Position) UnrealizedPnL() float64 {
	return float64(p.Quantity) * (p.CurrentPrice - p.AvgCost)
}
