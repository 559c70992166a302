package gateway

import (
	"context"
	"math"
	"strings"
	"testing"

	"main/internal/model"
)

func marketBuy(symbol string, qty int64) model.OrderRequest {
	return model.OrderRequest{
		Owner:    "test",
		Symbol:   symbol,
		Side:     model.OrderSideBuy,
		Quantity: qty,
		Kind:     model.OrderKindMarket,
	}
}

func TestSubmitMarketFillsAtReference(t *testing.T) {
	p := NewPaper(0)
	p.SetPrice("AAPL", 150)

	outcome, err := p.Submit(context.Background(), 1, marketBuy("AAPL", 10))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome.Status != model.OrderStatusFilled {
		t.Fatalf("status mismatch! should be FILLED but got %s", outcome.Status)
	}
	if outcome.FillPrice != 150 {
		t.Fatalf("fill price mismatch! should be 150 but got %v", outcome.FillPrice)
	}
	if outcome.FillQuantity != 10 {
		t.Fatalf("fill qty mismatch! should be 10 but got %d", outcome.FillQuantity)
	}
}

func TestSubmitAppliesSlippage(t *testing.T) {
	p := NewPaper(10) // 10 bps
	p.SetPrice("AAPL", 100)

	buy, err := p.Submit(context.Background(), 1, marketBuy("AAPL", 1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if math.Abs(buy.FillPrice-100.1) > 1e-9 {
		t.Fatalf("buy fill mismatch! should be 100.1 but got %v", buy.FillPrice)
	}

	sell := marketBuy("AAPL", 1)
	sell.Side = model.OrderSideSell
	out, err := p.Submit(context.Background(), 2, sell)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if math.Abs(out.FillPrice-99.9) > 1e-9 {
		t.Fatalf("sell fill mismatch! should be 99.9 but got %v", out.FillPrice)
	}
}

func TestSubmitLimitRestsUntilCross(t *testing.T) {
	p := NewPaper(0)
	p.SetPrice("AAPL", 100)

	resting := model.OrderRequest{
		Owner:      "test",
		Symbol:     "AAPL",
		Side:       model.OrderSideBuy,
		Quantity:   5,
		Kind:       model.OrderKindLimit,
		LimitPrice: 95,
	}
	outcome, err := p.Submit(context.Background(), 1, resting)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome.Status != model.OrderStatusSubmitted {
		t.Fatalf("status mismatch! should be SUBMITTED but got %s", outcome.Status)
	}
	if len(p.Pending()) != 1 {
		t.Fatalf("pending count mismatch! should be 1 but got %d", len(p.Pending()))
	}

	crossing := resting
	crossing.LimitPrice = 101
	outcome, err = p.Submit(context.Background(), 2, crossing)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome.Status != model.OrderStatusFilled {
		t.Fatalf("status mismatch! should be FILLED but got %s", outcome.Status)
	}
	if outcome.FillPrice != 100 {
		t.Fatalf("limit fill should trade at reference, got %v", outcome.FillPrice)
	}
}

func TestSubmitWhileDisconnectedRejects(t *testing.T) {
	p := NewPaper(0)
	p.SetPrice("AAPL", 100)
	p.SetConnected(false)

	outcome, err := p.Submit(context.Background(), 1, marketBuy("AAPL", 1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome.Status != model.OrderStatusRejected {
		t.Fatalf("status mismatch! should be REJECTED but got %s", outcome.Status)
	}
	if !strings.Contains(outcome.Message, "not connected") {
		t.Fatalf("message should mention the connection, got %q", outcome.Message)
	}
}

func TestSubmitWithoutReferencePriceRejects(t *testing.T) {
	p := NewPaper(0)
	outcome, err := p.Submit(context.Background(), 1, marketBuy("GHOST", 1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome.Status != model.OrderStatusRejected {
		t.Fatalf("status mismatch! should be REJECTED but got %s", outcome.Status)
	}
}

func TestSubmitDuplicateIDFails(t *testing.T) {
	p := NewPaper(0)
	p.SetPrice("AAPL", 100)

	if _, err := p.Submit(context.Background(), 7, marketBuy("AAPL", 1)); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if _, err := p.Submit(context.Background(), 7, marketBuy("AAPL", 1)); err != ErrDuplicateOrder {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestCancelRestingOrder(t *testing.T) {
	p := NewPaper(0)
	p.SetPrice("AAPL", 100)

	resting := model.OrderRequest{
		Owner:      "test",
		Symbol:     "AAPL",
		Side:       model.OrderSideBuy,
		Quantity:   1,
		Kind:       model.OrderKindLimit,
		LimitPrice: 90,
	}
	if _, err := p.Submit(context.Background(), 1, resting); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !p.Cancel(context.Background(), 1) {
		t.Fatal("cancel of resting order should succeed")
	}
	status := p.Status(context.Background(), 1)
	if status.Status != model.OrderStatusCancelled {
		t.Fatalf("status mismatch! should be CANCELLED but got %s", status.Status)
	}

	// Terminal orders cannot be canceled again.
	if p.Cancel(context.Background(), 1) {
		t.Fatal("cancel of terminal order should fail")
	}
}

func TestStatusUnknownOrder(t *testing.T) {
	p := NewPaper(0)
	status := p.Status(context.Background(), 404)
	if status.Status != model.OrderStatusUnknown {
		t.Fatalf("status mismatch! should be UNKNOWN but got %s", status.Status)
	}
}
