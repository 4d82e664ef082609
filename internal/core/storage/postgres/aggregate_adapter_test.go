package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
)

func weeklyKey() aggregate.Key {
	return aggregate.Key{Granularity: aggregate.GranularityWeekly, Year: 2026, Month: 8, Seq: 5}
}

func TestAggregateAdapterGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)

	mock.ExpectQuery("SELECT granularity, year, month, seq").
		WithArgs(aggregate.GranularityWeekly, 2026, 8, 5).
		WillReturnRows(sqlmock.NewRows([]string{"granularity"}))

	_, err = adapter.Get(context.Background(), weeklyKey())
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateAdapterGetScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)
	now := time.Now().UTC().Truncate(time.Second)
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"granularity", "year", "month", "seq",
		"period_start", "period_end",
		"total_amount", "total_count", "document_ids",
		"notified_level1", "notified_level2", "notified_level3", "summary_sent",
		"version", "last_updated", "last_updated_by",
	}).AddRow(
		aggregate.GranularityWeekly, 2026, 8, 5,
		start, end,
		"6000", int64(3), "{txn-1,txn-2,txn-3}",
		true, true, false, false,
		int64(4), now, "aggregation-service",
	)

	mock.ExpectQuery("SELECT granularity, year, month, seq").
		WithArgs(aggregate.GranularityWeekly, 2026, 8, 5).
		WillReturnRows(rows)

	agg, err := adapter.Get(context.Background(), weeklyKey())
	require.NoError(t, err)
	require.True(t, agg.TotalAmount.Equal(decimal.NewFromInt(6000)))
	require.Equal(t, int64(3), agg.TotalCount)
	require.Equal(t, []string{"txn-1", "txn-2", "txn-3"}, agg.DocumentIDs)
	require.True(t, agg.NotifiedLevel1)
	require.True(t, agg.NotifiedLevel2)
	require.False(t, agg.NotifiedLevel3)
	require.Equal(t, int64(4), agg.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateAdapterCreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)

	mock.ExpectExec("INSERT INTO period_aggregates").
		WillReturnError(&pq.Error{Code: "23505"})

	agg := &aggregate.Aggregate{Key: weeklyKey(), TotalAmount: decimal.NewFromInt(100), TotalCount: 1}
	_, err = adapter.Create(context.Background(), agg)
	require.ErrorIs(t, err, storage.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateAdapterCreateReturnsPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)

	mock.ExpectExec("INSERT INTO period_aggregates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	agg := &aggregate.Aggregate{Key: weeklyKey(), TotalAmount: decimal.NewFromInt(100), TotalCount: 1}
	path, err := adapter.Create(context.Background(), agg)
	require.NoError(t, err)
	require.Equal(t, "aggregates/2026/08/weekly/term5", path)
	require.Equal(t, int64(1), agg.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateAdapterUpdateVersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)

	mock.ExpectExec("UPDATE period_aggregates").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM period_aggregates").
		WithArgs(aggregate.GranularityWeekly, 2026, 8, 5).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(7)))

	total := decimal.NewFromInt(6000)
	count := int64(3)
	patch := aggregate.Patch{
		TotalAmount:   &total,
		TotalCount:    &count,
		DocumentIDs:   []string{"txn-1"},
		LastUpdated:   time.Now().UTC(),
		LastUpdatedBy: "aggregation-service",
	}

	_, err = adapter.Update(context.Background(), weeklyKey(), patch, 6)
	require.ErrorIs(t, err, storage.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateAdapterUpdateMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)

	mock.ExpectExec("UPDATE period_aggregates").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM period_aggregates").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	_, err = adapter.Update(context.Background(), weeklyKey(), aggregate.Patch{}, 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateAdapterMarkNotified(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)

	mock.ExpectExec("UPDATE period_aggregates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	flags := aggregate.Flags{Level1: true, Level2: true}
	err = adapter.MarkNotified(context.Background(), weeklyKey(), flags, "aggregation-service")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateAdapterMarkNotifiedEmptyFlagsNoQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregateAdapter(db)

	err = adapter.MarkNotified(context.Background(), weeklyKey(), aggregate.Flags{}, "x")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
