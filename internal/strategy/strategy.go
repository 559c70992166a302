// Package strategy defines the decision-module contract and a
// pipeline-backed base implementation.
package strategy

import (
	"main/internal/model"
)

// Strategy is a decision module plugged into the event router. The
// orchestrator depends only on this interface, never on concrete types.
type Strategy interface {
	Name() string
	// Subscriptions lists the event kinds the strategy wants; use
	// model.KindAny for everything.
	Subscriptions() []string
	// OnEvent processes one event and returns zero or more decisions.
	OnEvent(event model.Event) []model.Decision
	// State returns a JSON-serializable snapshot for checkpointing.
	State() map[string]any
	// LoadState restores a previously persisted snapshot.
	LoadState(state map[string]any)
}
