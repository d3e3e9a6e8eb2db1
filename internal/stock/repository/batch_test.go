package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/testutil"
)

const batchID = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"

var batchCols = []string{
	"id", "product_id", "code", "manufactured_date", "expiry_date",
	"qty_total", "qty_remaining", "status", "received_seq",
	"created_at", "updated_at",
}

func newBatchRepo(t *testing.T) (*BatchRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	return NewBatchRepository(database.Wrap(mockDB.DB, logger.New("test", "test"))), mockDB
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	b := &StockBatch{ExpiryDate: now.AddDate(0, 0, 2)}
	assert.Equal(t, 2, b.DaysUntilExpiry(now))

	b = &StockBatch{ExpiryDate: now.AddDate(0, 0, -3)}
	assert.Equal(t, -3, b.DaysUntilExpiry(now))

	b = &StockBatch{ExpiryDate: now}
	assert.Zero(t, b.DaysUntilExpiry(now))
}

func TestDecrementRemainingReportsConflict(t *testing.T) {
	repo, mockDB := newBatchRepo(t)
	ctx := context.Background()

	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batchID, 5, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.DecrementRemaining(ctx, mockDB.DB, batchID, 5, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// The guard misses when qty_remaining no longer matches what was read.
	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batchID, 5, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.DecrementRemaining(ctx, mockDB.DB, batchID, 5, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	mockDB.ExpectationsWereMet(t)
}

func TestListAllocatableWithAndWithoutExpiryCutoff(t *testing.T) {
	repo, mockDB := newBatchRepo(t)
	ctx := context.Background()
	now := time.Now()

	rows := testutil.MockRows(batchCols...).
		AddRow(batchID, productID, "LOT-A", now.AddDate(0, -6, 0), now.AddDate(0, 0, 2),
			5, 5, "active", 1, now, now)

	mockDB.ExpectQuery("FROM stock_batches").
		WithArgs(productID).
		WillReturnRows(rows)
	batches, err := repo.ListAllocatable(ctx, mockDB.DB, productID, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "LOT-A", batches[0].Code)

	cutoff := now.AddDate(0, 0, 10)
	mockDB.ExpectQuery("FROM stock_batches").
		WithArgs(productID, cutoff).
		WillReturnRows(testutil.MockRows(batchCols...))
	batches, err = repo.ListAllocatable(ctx, mockDB.DB, productID, &cutoff)
	require.NoError(t, err)
	assert.Empty(t, batches)

	mockDB.ExpectationsWereMet(t)
}

func TestSweepExpiredReturnsAffectedCount(t *testing.T) {
	repo, mockDB := newBatchRepo(t)

	mockDB.ExpectExec("UPDATE stock_batches SET status = 'expired'").
		WillReturnResult(sqlmock.NewResult(0, 4))

	swept, err := repo.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), swept)
}

func TestMarkRecalledUnknownBatch(t *testing.T) {
	repo, mockDB := newBatchRepo(t)

	mockDB.ExpectExec("UPDATE stock_batches SET qty_remaining = 0").
		WithArgs(batchID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRecalled(context.Background(), mockDB.DB, batchID)
	require.Error(t, err)
}
