package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/errors"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
	"github.com/vintrack/vintrack-backend/pkg/testutil"
)

const (
	batch1ID = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	batch2ID = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
)

var batchColumns = []string{
	"id", "product_id", "code", "manufactured_date", "expiry_date",
	"qty_total", "qty_remaining", "status", "received_seq",
	"created_at", "updated_at",
}

func newAllocatorFixture(t *testing.T, retries int) (*AllocatorService, *testutil.MockDB, time.Time) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	log := logger.New("test", "test")
	db := database.Wrap(mockDB.DB, log)

	svc := NewAllocatorService(
		db,
		repository.NewProductRepository(db),
		repository.NewBatchRepository(db),
		repository.NewMovementRepository(db),
		nil,
		metrics.NewNop(),
		log,
		retries,
	)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, mockDB, now
}

// twoBatchRows builds the canonical fixture: batch 1 has 5 units expiring
// in 2 days, batch 2 has 20 units expiring in 30 days.
func twoBatchRows(now time.Time) *sqlmock.Rows {
	manufactured := now.AddDate(0, -6, 0)
	return testutil.MockRows(batchColumns...).
		AddRow(batch1ID, testProductID, "LOT-A", manufactured, now.AddDate(0, 0, 2),
			5, 5, "active", 1, now, now).
		AddRow(batch2ID, testProductID, "LOT-B", manufactured, now.AddDate(0, 0, 30),
			20, 20, "active", 2, now, now)
}

func expectAllocatableQuery(mockDB *testutil.MockDB) *sqlmock.ExpectedQuery {
	return mockDB.ExpectQuery("FROM stock_batches").WithArgs(testProductID)
}

func TestAllocateSaleDrainsNearestExpiryFirst(t *testing.T) {
	svc, mockDB, now := newAllocatorFixture(t, 3)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 FOR UPDATE").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 0, 25))
	expectAllocatableQuery(mockDB).WillReturnRows(twoBatchRows(now))

	// Batch 1 drains completely, batch 2 covers the remainder.
	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batch1ID, 5, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WithArgs(
			testutil.AnyUUID{}, testProductID, batch1ID, "unit", -5, "sale",
			"pos checkout", sqlmock.AnyArg(), testutil.AnyUUID{}, 25, 20,
		).
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batch2ID, 20, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WithArgs(
			testutil.AnyUUID{}, testProductID, batch2ID, "unit", -3, "sale",
			"pos checkout", sqlmock.AnyArg(), testutil.AnyUUID{}, 20, 17,
		).
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE products SET stock_units_loose = $2").
		WithArgs(testProductID, 17).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	result, err := svc.AllocateSale(context.Background(), &AllocateSaleInput{
		ProductID: testProductID,
		Quantity:  8,
		Reason:    "pos checkout",
	})
	require.NoError(t, err)

	assert.Equal(t, 8, result.Allocated)
	assert.Zero(t, result.Shortfall)
	assert.False(t, result.PartialSale)

	require.Len(t, result.Lines, 2)
	assert.Equal(t, batch1ID, result.Lines[0].BatchID)
	assert.Equal(t, 5, result.Lines[0].Quantity)
	assert.Equal(t, batch2ID, result.Lines[1].BatchID)
	assert.Equal(t, 3, result.Lines[1].Quantity)

	// One ledger movement per batch, snapshots chained.
	require.Len(t, result.Movements, 2)
	assert.Equal(t, 25, result.Movements[0].PreviousStock)
	assert.Equal(t, 20, result.Movements[0].NewStock)
	assert.Equal(t, 20, result.Movements[1].PreviousStock)
	assert.Equal(t, 17, result.Movements[1].NewStock)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationResultWireFieldNames(t *testing.T) {
	// The HTTP body and the sale.allocated event describe the same outcome
	// and must use the same field names.
	body, err := json.Marshal(&AllocationResult{
		ProductID: testProductID,
		Requested: 8,
		Allocated: 8,
		Lines:     []AllocationLine{{BatchID: batch1ID, Quantity: 8}},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Contains(t, decoded, "units_requested")
	assert.Contains(t, decoded, "units_sold")
	assert.Contains(t, decoded, "batches_used")
	assert.NotContains(t, decoded, "requested")
	assert.NotContains(t, decoded, "allocated")
	assert.NotContains(t, decoded, "lines")
}

func TestAllocateSaleAllOrNothingByDefault(t *testing.T) {
	svc, mockDB, now := newAllocatorFixture(t, 3)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 FOR UPDATE").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 0, 25))
	expectAllocatableQuery(mockDB).WillReturnRows(twoBatchRows(now))
	mockDB.ExpectRollback()

	_, err := svc.AllocateSale(context.Background(), &AllocateSaleInput{
		ProductID: testProductID,
		Quantity:  30,
		Reason:    "pos checkout",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientBatchStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INSUFFICIENT_BATCH_STOCK", appErr.Code)
	mockDB.ExpectationsWereMet(t)
}

func TestAllocateSalePartialFulfillment(t *testing.T) {
	svc, mockDB, now := newAllocatorFixture(t, 3)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 FOR UPDATE").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 0, 25))
	expectAllocatableQuery(mockDB).WillReturnRows(twoBatchRows(now))
	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batch1ID, 5, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batch2ID, 20, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE products SET stock_units_loose = $2").
		WithArgs(testProductID, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	result, err := svc.AllocateSale(context.Background(), &AllocateSaleInput{
		ProductID:    testProductID,
		Quantity:     30,
		AllowPartial: true,
		Reason:       "pos checkout",
	})
	require.NoError(t, err)

	assert.Equal(t, 25, result.Allocated)
	assert.Equal(t, 5, result.Shortfall)
	assert.True(t, result.PartialSale)
	mockDB.ExpectationsWereMet(t)
}

func TestAllocateSaleMaxExpiryHardExcludesLateBatches(t *testing.T) {
	svc, mockDB, now := newAllocatorFixture(t, 3)

	// Only batch 1 falls inside the 10-day window; the request cannot be
	// topped up from batch 2 even though it has plenty left.
	maxDays := 10
	manufactured := now.AddDate(0, -6, 0)
	inWindow := testutil.MockRows(batchColumns...).
		AddRow(batch1ID, testProductID, "LOT-A", manufactured, now.AddDate(0, 0, 2),
			5, 5, "active", 1, now, now)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 FOR UPDATE").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 0, 25))
	mockDB.ExpectQuery("FROM stock_batches").
		WithArgs(testProductID, testutil.AnyTime{}).
		WillReturnRows(inWindow)
	mockDB.ExpectRollback()

	_, err := svc.AllocateSale(context.Background(), &AllocateSaleInput{
		ProductID:          testProductID,
		Quantity:           8,
		MaxDaysUntilExpiry: &maxDays,
		Reason:             "pos checkout",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientBatchStock))
	mockDB.ExpectationsWereMet(t)
}

func TestAllocateSaleRetriesOnConflictThenGivesUp(t *testing.T) {
	svc, mockDB, now := newAllocatorFixture(t, 2)

	for attempt := 0; attempt < 2; attempt++ {
		mockDB.ExpectBegin()
		mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 FOR UPDATE").
			WithArgs(testProductID).
			WillReturnRows(productRow(testProductID, 0, 25))
		expectAllocatableQuery(mockDB).WillReturnRows(twoBatchRows(now))
		// Conditional decrement misses: someone else took from the batch.
		mockDB.ExpectExec("UPDATE stock_batches SET").
			WithArgs(batch1ID, 5, 5).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mockDB.ExpectRollback()
	}

	_, err := svc.AllocateSale(context.Background(), &AllocateSaleInput{
		ProductID: testProductID,
		Quantity:  8,
		Reason:    "pos checkout",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConcurrentModification))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CONCURRENT_MODIFICATION", appErr.Code)
	mockDB.ExpectationsWereMet(t)
}

func TestAllocateSaleRecoversAfterConflict(t *testing.T) {
	svc, mockDB, now := newAllocatorFixture(t, 3)

	// First attempt loses the race, second sees the refreshed batch state
	// and succeeds.
	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 FOR UPDATE").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 0, 25))
	expectAllocatableQuery(mockDB).WillReturnRows(twoBatchRows(now))
	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batch1ID, 5, 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	manufactured := now.AddDate(0, -6, 0)
	refreshed := testutil.MockRows(batchColumns...).
		AddRow(batch2ID, testProductID, "LOT-B", manufactured, now.AddDate(0, 0, 30),
			20, 18, "active", 2, now, now)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1 FOR UPDATE").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 0, 18))
	expectAllocatableQuery(mockDB).WillReturnRows(refreshed)
	mockDB.ExpectExec("UPDATE stock_batches SET").
		WithArgs(batch2ID, 18, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectExec("UPDATE products SET stock_units_loose = $2").
		WithArgs(testProductID, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	result, err := svc.AllocateSale(context.Background(), &AllocateSaleInput{
		ProductID: testProductID,
		Quantity:  8,
		Reason:    "pos checkout",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, result.Allocated)
	assert.False(t, result.PartialSale)
	mockDB.ExpectationsWereMet(t)
}

func TestAllocateSaleRejectsNonPositiveQuantity(t *testing.T) {
	svc, _, _ := newAllocatorFixture(t, 3)

	_, err := svc.AllocateSale(context.Background(), &AllocateSaleInput{
		ProductID: testProductID,
		Quantity:  0,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}
