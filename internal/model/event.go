package model

import "time"

// Well-known event kinds routed through the bus.
const (
	KindPriceBar     = "price_bar"
	KindFundamental  = "fundamental_data"
	KindOrderOutcome = "order_outcome"
	KindSessionUp    = "session_up"
	KindSessionDown  = "session_down"

	// KindAny subscribes a handler to every event kind.
	KindAny = "*"
)

// Event is the unit routed through the bus. Events are immutable once
// published; subscribers must not mutate Payload.
type Event struct {
	Kind       string         `json:"kind"`
	Key        string         `json:"key,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	ObservedAt time.Time      `json:"observedAt"`
	Source     string         `json:"source"`
	Payload    map[string]any `json:"payload"`
}

// NewEvent builds an event observed now, clamping ObservedAt so it never
// precedes OccurredAt.
func NewEvent(kind, key, source string, occurredAt time.Time, payload map[string]any) Event {
	observed := time.Now().UTC()
	if observed.Before(occurredAt) {
		observed = occurredAt
	}
	return Event{
		Kind:       kind,
		Key:        key,
		OccurredAt: occurredAt,
		ObservedAt: observed,
		Source:     source,
		Payload:    payload,
	}
}
