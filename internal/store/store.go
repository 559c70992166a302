// Package store provides durable, typed persistence for time series,
// latest-value documents, process state, and append-only audit trails.
package store

import (
	"errors"
	"time"

	"main/internal/model"
)

var (
	ErrClosed     = errors.New("store closed")
	ErrBadBackend = errors.New("unknown store backend")
)

// Store is the persistence surface shared by all backends. Missing keys on
// reads yield empty or absent results, never an error; write failures are
// always propagated to the caller.
type Store interface {
	// WriteBars upserts bars by (symbol, timestamp). Concurrent writes to
	// the same partition are serialized; previously stored points survive.
	WriteBars(symbol string, bars []model.PriceBar) error
	// ReadBars returns bars with start <= Timestamp <= end, ascending.
	ReadBars(symbol string, start, end time.Time) ([]model.PriceBar, error)

	// WriteDocument stores one document per observation time.
	WriteDocument(symbol string, doc model.Document) error
	// ReadDocument returns the document with the greatest AsOf not
	// exceeding asOf, or the latest overall when asOf is zero.
	ReadDocument(symbol string, asOf time.Time) (model.Document, bool, error)

	// SaveState fully overwrites the owner's state.
	SaveState(owner string, state map[string]any) error
	// LoadState returns nil without error when the owner has no state.
	LoadState(owner string) (map[string]any, error)

	// AppendAudit appends one record to the owner's audit trail,
	// partitioned by day. Records are never mutated or deleted.
	AppendAudit(owner, category string, record map[string]any) error

	// WriteEvent appends one event to the day-partitioned event log.
	WriteEvent(event model.Event) error
	// ReadEvents returns events in [start, end], optionally filtered by
	// kind, in stored order.
	ReadEvents(start, end time.Time, kinds []string) ([]model.Event, error)

	Close() error
}

// AuditRecord is the persisted form of one audit entry.
type AuditRecord struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner"`
	Timestamp time.Time      `json:"timestamp"`
	Record    map[string]any `json:"record"`
}

func kindFilter(kinds []string) map[string]struct{} {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}
