// Package gateway defines the execution boundary: stateless order
// submission, cancellation, and status lookup.
package gateway

import (
	"context"

	"main/internal/model"
)

// Gateway is the execution collaborator contract. An order rejection is
// reported through the OrderOutcome status, never as an error; errors are
// reserved for the gateway itself being unusable.
type Gateway interface {
	Submit(ctx context.Context, id int64, req model.OrderRequest) (model.OrderOutcome, error)
	Cancel(ctx context.Context, id int64) bool
	Status(ctx context.Context, id int64) model.OrderOutcome
}
