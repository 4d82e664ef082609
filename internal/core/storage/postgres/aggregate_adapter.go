package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// AggregateAdapter implements storage.AggregateStore using PostgreSQL.
// One row per period key; totals updates are guarded by an optimistic
// version check so concurrent read-modify-write cycles cannot silently
// overwrite each other.
type AggregateAdapter struct {
	db *sql.DB
}

// NewAggregateAdapter creates a new AggregateAdapter sharing the given connection.
func NewAggregateAdapter(db *sql.DB) *AggregateAdapter {
	return &AggregateAdapter{db: db}
}

// Get returns the aggregate for a period key, or storage.ErrNotFound.
func (a *AggregateAdapter) Get(ctx context.Context, key aggregate.Key) (*aggregate.Aggregate, error) {
	row := a.db.QueryRowContext(ctx, queryGetAggregate, key.Granularity, key.Year, key.Month, key.Seq)

	var agg aggregate.Aggregate
	var docIDs pq.StringArray
	var updatedBy sql.NullString

	err := row.Scan(
		&agg.Key.Granularity,
		&agg.Key.Year,
		&agg.Key.Month,
		&agg.Key.Seq,
		&agg.PeriodStart,
		&agg.PeriodEnd,
		&agg.TotalAmount,
		&agg.TotalCount,
		&docIDs,
		&agg.NotifiedLevel1,
		&agg.NotifiedLevel2,
		&agg.NotifiedLevel3,
		&agg.SummarySent,
		&agg.Version,
		&agg.LastUpdated,
		&updatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate %s: %w", key.DocPath(), err)
	}

	agg.DocumentIDs = []string(docIDs)
	agg.LastUpdatedBy = updatedBy.String
	return &agg, nil
}

// Create persists a brand-new aggregate at version 1.
// Returns storage.ErrDuplicate when the key already exists.
func (a *AggregateAdapter) Create(ctx context.Context, agg *aggregate.Aggregate) (string, error) {
	_, err := a.db.ExecContext(ctx, queryCreateAggregate,
		agg.Key.Granularity,
		agg.Key.Year,
		agg.Key.Month,
		agg.Key.Seq,
		agg.PeriodStart,
		agg.PeriodEnd,
		agg.TotalAmount,
		agg.TotalCount,
		pq.Array(agg.DocumentIDs),
		agg.NotifiedLevel1,
		agg.NotifiedLevel2,
		agg.NotifiedLevel3,
		agg.SummarySent,
		int64(1),
		agg.LastUpdated,
		agg.LastUpdatedBy,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return "", storage.ErrDuplicate
		}
		return "", fmt.Errorf("create aggregate %s: %w", agg.Key.DocPath(), err)
	}

	agg.Version = 1

	slog.Debug("[AggregateAdapter] Created aggregate", "path", agg.Key.DocPath())
	return agg.Key.DocPath(), nil
}

// Update applies a partial totals update with a compare-and-swap on the
// version column. Only fields set in the patch are written.
func (a *AggregateAdapter) Update(
	ctx context.Context,
	key aggregate.Key,
	patch aggregate.Patch,
	expectedVersion int64,
) (string, error) {
	sets := []string{"version = version + 1"}
	args := []interface{}{key.Granularity, key.Year, key.Month, key.Seq, expectedVersion}
	next := len(args) + 1

	appendSet := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}

	if patch.TotalAmount != nil {
		appendSet("total_amount", *patch.TotalAmount)
	}
	if patch.TotalCount != nil {
		appendSet("total_count", *patch.TotalCount)
	}
	if patch.DocumentIDs != nil {
		appendSet("document_ids", pq.Array(patch.DocumentIDs))
	}
	appendSet("last_updated", patch.LastUpdated)
	appendSet("last_updated_by", patch.LastUpdatedBy)

	query := fmt.Sprintf(`
		UPDATE period_aggregates
		SET %s
		WHERE granularity = $1 AND year = $2 AND month = $3 AND seq = $4 AND version = $5
	`, strings.Join(sets, ", "))

	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("update aggregate %s: %w", key.DocPath(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("update aggregate %s: rows affected: %w", key.DocPath(), err)
	}
	if affected == 0 {
		// Either the row is gone or the version moved underneath us.
		var current int64
		err := a.db.QueryRowContext(ctx, queryAggregateVersion,
			key.Granularity, key.Year, key.Month, key.Seq).Scan(&current)
		if err == sql.ErrNoRows {
			return "", storage.ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("update aggregate %s: read version: %w", key.DocPath(), err)
		}
		slog.Warn("[AggregateAdapter] Version conflict",
			"path", key.DocPath(),
			"expected_version", expectedVersion,
			"current_version", current)
		return "", storage.ErrVersionConflict
	}

	return key.DocPath(), nil
}

// MarkNotified ORs the given flags into the stored row. Monotonic — a set
// flag can never be cleared, so no version check is needed.
func (a *AggregateAdapter) MarkNotified(
	ctx context.Context,
	key aggregate.Key,
	flags aggregate.Flags,
	updatedBy string,
) error {
	if flags.Empty() {
		return nil
	}

	result, err := a.db.ExecContext(ctx, queryMarkNotified,
		key.Granularity,
		key.Year,
		key.Month,
		key.Seq,
		flags.Level1,
		flags.Level2,
		flags.Level3,
		flags.Summary,
		time.Now().UTC(),
		updatedBy,
	)
	if err != nil {
		return fmt.Errorf("mark notified %s: %w", key.DocPath(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notified %s: rows affected: %w", key.DocPath(), err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
