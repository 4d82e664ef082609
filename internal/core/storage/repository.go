package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/cardwatch-lab/cardwatch/internal/api/v1"
	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
)

// ErrNotFound is returned when no aggregate exists for a period key.
// Callers treat this as "nothing yet" and create lazily — it is distinct
// from transport and query failures.
var ErrNotFound = errors.New("aggregate not found")

// ErrDuplicate is returned when a transaction with the same id already exists.
var ErrDuplicate = errors.New("transaction already exists")

// ErrVersionConflict is returned when a totals update lost a race: the stored
// version no longer matches the caller's expected version. Callers re-read
// and retry.
var ErrVersionConflict = errors.New("aggregate version conflict")

// AggregateStore is the document store for period aggregates, one document
// per period key.
type AggregateStore interface {
	// Get returns the aggregate for a period key, or ErrNotFound.
	Get(ctx context.Context, key aggregate.Key) (*aggregate.Aggregate, error)

	// Create persists a brand-new aggregate and returns its document path.
	// Returns ErrDuplicate if the key already exists (a concurrent creator won).
	Create(ctx context.Context, agg *aggregate.Aggregate) (string, error)

	// Update applies a partial totals update if and only if the stored
	// version equals expectedVersion, bumping the version on success.
	// Returns ErrVersionConflict on a lost race, ErrNotFound if the document
	// does not exist. Returns the document path.
	Update(ctx context.Context, key aggregate.Key, patch aggregate.Patch, expectedVersion int64) (string, error)

	// MarkNotified ORs the given flags into the stored aggregate. Flag
	// writes are monotonic, so no version check is needed and concurrent
	// writers cannot undo each other.
	MarkNotified(ctx context.Context, key aggregate.Key, flags aggregate.Flags, updatedBy string) error
}

// TransactionStore persists raw transactions and serves the bulk date-range
// query that recalculation replays from.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx *v1.Transaction) error

	// QueryByDateRange fetches all transactions whose occurred_at falls in
	// [start, end], ordered by occurred_at then ingest_seq.
	QueryByDateRange(ctx context.Context, start, end time.Time) ([]*v1.Transaction, error)
}
