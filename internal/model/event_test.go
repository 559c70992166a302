package model

import (
	"testing"
	"time"
)

func TestNewEventClampsObservedAt(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	e := NewEvent(KindPriceBar, "AAPL", "test", past, nil)
	if e.ObservedAt.Before(e.OccurredAt) {
		t.Fatalf("observed %s precedes occurred %s", e.ObservedAt, e.OccurredAt)
	}

	future := time.Now().UTC().Add(time.Hour)
	e = NewEvent(KindPriceBar, "AAPL", "test", future, nil)
	if !e.ObservedAt.Equal(future) {
		t.Fatalf("observed should clamp to occurred, got %s", e.ObservedAt)
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	testCases := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusSubmitted, false},
		{OrderStatusFilled, true},
		{OrderStatusRejected, true},
		{OrderStatusCancelled, true},
		{OrderStatusUnknown, false},
	}
	for _, tc := range testCases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Fatalf("%s terminal mismatch! should be %v but got %v", tc.status, tc.terminal, got)
		}
	}
}

func TestPositionValuation(t *testing.T) {
	p := Position{Symbol: "AAPL", Quantity: 10, AvgCost: 100, CurrentPrice: 110}
	if got := p.MarketValue(); got != 1100 {
		t.Fatalf("market value mismatch! should be 1100 but got %v", got)
	}
	if got := p.UnrealizedPnL(); got != 100 {
		t.Fatalf("pnl mismatch! should be 100 but got %v", got)
	}
}
