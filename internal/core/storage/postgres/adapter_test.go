package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/cardwatch-lab/cardwatch/internal/api/v1"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
)

func TestSaveTransactionDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAdapterWithDB(db)

	// ON CONFLICT DO NOTHING yields zero returned rows for a duplicate.
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"ingest_seq"}))

	tx := &v1.Transaction{
		ID:         "txn-1",
		Amount:     decimal.NewFromInt(1200),
		OccurredAt: time.Now().UTC(),
		IngestedAt: time.Now().UTC(),
	}
	err = adapter.SaveTransaction(context.Background(), tx)
	require.ErrorIs(t, err, storage.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTransactionPopulatesIngestSeq(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAdapterWithDB(db)

	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"ingest_seq"}).AddRow(int64(42)))

	tx := &v1.Transaction{
		ID:         "txn-1",
		Amount:     decimal.NewFromInt(1200),
		OccurredAt: time.Now().UTC(),
		IngestedAt: time.Now().UTC(),
	}
	require.NoError(t, adapter.SaveTransaction(context.Background(), tx))
	require.Equal(t, int64(42), tx.IngestSeq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryByDateRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAdapterWithDB(db)
	now := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows([]string{"id", "amount", "occurred_at", "source", "ingested_at", "ingest_seq"}).
		AddRow("txn-1", "1200", now, "mail:usage-report", now, int64(1)).
		AddRow("txn-2", "-500", now, nil, now, int64(2))

	start := now.AddDate(0, 0, -7)
	mock.ExpectQuery("SELECT id, amount, occurred_at").
		WithArgs(start, now).
		WillReturnRows(rows)

	txs, err := adapter.QueryByDateRange(context.Background(), start, now)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.True(t, txs[0].Amount.Equal(decimal.NewFromInt(1200)))
	require.Equal(t, "mail:usage-report", txs[0].Source)
	require.True(t, txs[1].Amount.IsNegative())
	require.Empty(t, txs[1].Source)
	require.NoError(t, mock.ExpectationsWereMet())
}
