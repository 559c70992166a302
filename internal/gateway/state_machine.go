package gateway

import (
	"errors"
	"sync"

	"main/internal/model"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// Order holds the gateway's view of one submitted request.
type Order struct {
	ID      int64
	Request model.OrderRequest
	Outcome model.OrderOutcome
}

// StateMachine tracks order lifecycles from submission to a terminal
// outcome. Safe for concurrent use.
type StateMachine struct {
	mu     sync.Mutex
	orders map[int64]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[int64]*Order)}
}

// Track registers a newly submitted order.
func (m *StateMachine) Track(id int64, req model.OrderRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; ok {
		return ErrDuplicateOrder
	}
	m.orders[id] = &Order{
		ID:      id,
		Request: req,
		Outcome: model.OrderOutcome{RequestID: id, Status: model.OrderStatusSubmitted},
	}
	return nil
}

// Apply transitions an order to the given outcome. Terminal orders reject
// further transitions.
func (m *StateMachine) Apply(outcome model.OrderOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[outcome.RequestID]
	if !ok {
		return ErrUnknownOrder
	}
	if order.Outcome.Status.Terminal() {
		return ErrInvalidTransition
	}
	order.Outcome = outcome
	return nil
}

// Outcome returns the current view of an order.
func (m *StateMachine) Outcome(id int64) (model.OrderOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return model.OrderOutcome{}, false
	}
	return order.Outcome, true
}

// Pending returns every order without a terminal outcome.
func (m *StateMachine) Pending() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, order := range m.orders {
		if !order.Outcome.Status.Terminal() {
			out = append(out, *order)
		}
	}
	return out
}
