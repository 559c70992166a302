package model

import "time"

// PriceBar is one OHLCV bar. Bars are identified by (Symbol, Timestamp);
// a later write with the same identity replaces the earlier one.
type PriceBar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Document is a point-in-time snapshot of non-series data for a symbol,
// e.g. a parsed fundamentals report. Multiple documents may exist per
// symbol, one per observation time.
type Document struct {
	Symbol string         `json:"symbol"`
	AsOf   time.Time      `json:"asOf"`
	Fields map[string]any `json:"fields"`
}

// Field returns a named document field, or nil when absent.
func (d Document) Field(name string) any {
	if d.Fields == nil {
		return nil
	}
	return d.Fields[name]
}

// FloatField returns a numeric document field. JSON round-trips store
// numbers as float64; ints written in-process are converted.
func (d Document) FloatField(name string) (float64, bool) {
	switch v := d.Field(name).(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
