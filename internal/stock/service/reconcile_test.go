package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
	"github.com/vintrack/vintrack-backend/pkg/testutil"
)

var replayColumns = []string{"product_id", "packages", "units_loose"}

func testTime() time.Time {
	return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
}

func newReconcileFixture(t *testing.T) (*ReconcileService, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	log := logger.New("test", "test")
	db := database.Wrap(mockDB.DB, log)

	svc := NewReconcileService(
		db,
		repository.NewProductRepository(db),
		repository.NewMovementRepository(db),
		nil,
		metrics.NewNop(),
		log,
	)
	return svc, mockDB
}

func expectValidatePass(mockDB *testutil.MockDB, products, replayed *sqlmock.Rows, orphans *sqlmock.Rows) {
	mockDB.ExpectQuery("SELECT * FROM products WHERE is_active = true").WillReturnRows(products)
	mockDB.ExpectQuery("GROUP BY product_id").WillReturnRows(replayed)
	mockDB.ExpectQuery("LEFT JOIN products").WillReturnRows(orphans)
}

func movementColumnsRows() *sqlmock.Rows {
	return testutil.MockRows(
		"id", "product_id", "batch_id", "variant", "delta", "movement_type",
		"reason", "metadata", "actor_id", "previous_stock", "new_stock", "created_at",
	)
}

func TestValidateReportsHealthyWhenCountersMatchReplay(t *testing.T) {
	svc, mockDB := newReconcileFixture(t)

	expectValidatePass(mockDB,
		productRow(testProductID, 10, 24),
		testutil.MockRows(replayColumns...).AddRow(testProductID, 10, 24),
		movementColumnsRows(),
	)

	report, err := svc.Validate(context.Background(), "")
	require.NoError(t, err)

	assert.True(t, report.Healthy)
	assert.Equal(t, 1, report.ProductsChecked)
	assert.Empty(t, report.Discrepancies)
	assert.Empty(t, report.NegativeCounters)
	assert.Empty(t, report.OrphanMovements)
	mockDB.ExpectationsWereMet(t)
}

func TestValidateDetectsDriftedCounter(t *testing.T) {
	svc, mockDB := newReconcileFixture(t)

	// Counter says 10 packages, the ledger replays to 8. The unit counter
	// matches and must not be flagged.
	expectValidatePass(mockDB,
		productRow(testProductID, 10, 24),
		testutil.MockRows(replayColumns...).AddRow(testProductID, 8, 24),
		movementColumnsRows(),
	)

	report, err := svc.Validate(context.Background(), "")
	require.NoError(t, err)

	assert.False(t, report.Healthy)
	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, testProductID, d.ProductID)
	assert.Equal(t, repository.VariantPackage, d.Variant)
	assert.Equal(t, 10, d.Counter)
	assert.Equal(t, 8, d.Replayed)
	assert.Equal(t, 2, d.Drift)
	mockDB.ExpectationsWereMet(t)
}

func TestValidateTreatsMissingLedgerAsZero(t *testing.T) {
	svc, mockDB := newReconcileFixture(t)

	// A product with no movements at all should hold zero on both counters.
	expectValidatePass(mockDB,
		productRow(testProductID, 3, 0),
		testutil.MockRows(replayColumns...),
		movementColumnsRows(),
	)

	report, err := svc.Validate(context.Background(), "")
	require.NoError(t, err)

	assert.False(t, report.Healthy)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, 3, report.Discrepancies[0].Counter)
	assert.Zero(t, report.Discrepancies[0].Replayed)
}

func TestValidateFlagsNegativeCountersAndOrphans(t *testing.T) {
	svc, mockDB := newReconcileFixture(t)

	orphan := movementColumnsRows().AddRow(
		"99999999-9999-9999-9999-999999999999",
		"deadbeef-dead-dead-dead-deaddeadbeef",
		nil, "unit", -1, "sale", "x", nil,
		"00000000-0000-0000-0000-000000000000", 1, 0,
		testTime(),
	)

	expectValidatePass(mockDB,
		productRow(testProductID, -2, 24),
		testutil.MockRows(replayColumns...).AddRow(testProductID, -2, 24),
		orphan,
	)

	report, err := svc.Validate(context.Background(), "")
	require.NoError(t, err)

	assert.False(t, report.Healthy)
	assert.Empty(t, report.Discrepancies)
	require.Len(t, report.NegativeCounters, 1)
	assert.Equal(t, -2, report.NegativeCounters[0].Counter)
	require.Len(t, report.OrphanMovements, 1)
	assert.Equal(t, "deadbeef-dead-dead-dead-deaddeadbeef", report.OrphanMovements[0].ProductID)
}

func TestValidateScopedToOneProduct(t *testing.T) {
	svc, mockDB := newReconcileFixture(t)

	// Scoped validation replays a single product and skips the orphan scan.
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 10, 24))
	mockDB.ExpectQuery("FROM stock_movements WHERE product_id = $1").
		WithArgs(testProductID).
		WillReturnRows(testutil.MockRows("packages", "units_loose").AddRow(8, 24))

	report, err := svc.Validate(context.Background(), testProductID)
	require.NoError(t, err)

	assert.False(t, report.Healthy)
	assert.Equal(t, 1, report.ProductsChecked)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, repository.VariantPackage, report.Discrepancies[0].Variant)
	assert.Empty(t, report.OrphanMovements)
	mockDB.ExpectationsWereMet(t)
}

func TestAutoCorrectOverwritesDriftedCountersFromReplay(t *testing.T) {
	svc, mockDB := newReconcileFixture(t)

	// Both counters drifted; auto-correct rewrites them in one statement
	// using the replayed values.
	expectValidatePass(mockDB,
		productRow(testProductID, 10, 24),
		testutil.MockRows(replayColumns...).AddRow(testProductID, 8, 20),
		movementColumnsRows(),
	)
	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs(testProductID).
		WillReturnRows(productRow(testProductID, 10, 24))
	mockDB.ExpectExec("UPDATE products SET stock_packages = $2, stock_units_loose = $3").
		WithArgs(testProductID, 8, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := svc.AutoCorrect(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, report.Corrections, 2)
	mockDB.ExpectationsWereMet(t)
}

func TestAutoCorrectIsIdempotent(t *testing.T) {
	svc, mockDB := newReconcileFixture(t)

	// After a correction the counters equal the replay, so a second run
	// finds nothing to overwrite.
	expectValidatePass(mockDB,
		productRow(testProductID, 8, 20),
		testutil.MockRows(replayColumns...).AddRow(testProductID, 8, 20),
		movementColumnsRows(),
	)

	report, err := svc.AutoCorrect(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, report.Corrections)
	mockDB.ExpectationsWereMet(t)
}
