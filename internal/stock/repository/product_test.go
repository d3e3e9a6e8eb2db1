package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/errors"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/testutil"
)

const productID = "11111111-1111-1111-1111-111111111111"

var productCols = []string{
	"id", "name", "category", "stock_packages", "stock_units_loose",
	"units_per_package", "price_package", "price_unit",
	"min_stock_packages", "min_stock_units", "is_active",
	"created_at", "updated_at",
}

func newProductRepo(t *testing.T) (*ProductRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	return NewProductRepository(database.Wrap(mockDB.DB, logger.New("test", "test"))), mockDB
}

func TestVariantIsValid(t *testing.T) {
	assert.True(t, VariantPackage.IsValid())
	assert.True(t, VariantUnit.IsValid())
	assert.False(t, Variant("bottle").IsValid())
	assert.False(t, Variant("").IsValid())
}

func TestProductCounterAccessorsAreVariantScoped(t *testing.T) {
	minPkg, minUnit := 5, 10
	p := &Product{
		StockPackages:    7,
		StockUnitsLoose:  42,
		MinStockPackages: &minPkg,
		MinStockUnits:    &minUnit,
	}

	assert.Equal(t, 7, p.CounterFor(VariantPackage))
	assert.Equal(t, 42, p.CounterFor(VariantUnit))
	assert.Equal(t, 5, *p.MinStockFor(VariantPackage))
	assert.Equal(t, 10, *p.MinStockFor(VariantUnit))
}

func TestGetByIDReturnsProductNotFound(t *testing.T) {
	repo, mockDB := newProductRepo(t)

	mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs(productID).
		WillReturnRows(testutil.MockRows(productCols...))

	_, err := repo.GetByID(context.Background(), productID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PRODUCT_NOT_FOUND", appErr.Code)
	assert.Equal(t, productID, appErr.Details["product_id"])
}

func TestSetCounterUpdatesOnlyTheRequestedVariant(t *testing.T) {
	repo, mockDB := newProductRepo(t)
	ctx := context.Background()

	mockDB.ExpectExec("UPDATE products SET stock_packages = $2").
		WithArgs(productID, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetCounter(ctx, mockDB.DB, productID, VariantPackage, 12))

	mockDB.ExpectExec("UPDATE products SET stock_units_loose = $2").
		WithArgs(productID, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetCounter(ctx, mockDB.DB, productID, VariantUnit, 3))

	mockDB.ExpectationsWereMet(t)
}

func TestSetCounterUnknownProduct(t *testing.T) {
	repo, mockDB := newProductRepo(t)

	mockDB.ExpectExec("UPDATE products SET stock_units_loose = $2").
		WithArgs(productID, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetCounter(context.Background(), mockDB.DB, productID, VariantUnit, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCreateAssignsIDAndReadsTimestamps(t *testing.T) {
	repo, mockDB := newProductRepo(t)

	now := time.Now()
	mockDB.ExpectQuery("INSERT INTO products").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

	p := &Product{Name: "Rioja Reserva", Category: "red", IsActive: true}
	require.NoError(t, repo.Create(context.Background(), p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, now, p.CreatedAt)
	mockDB.ExpectationsWereMet(t)
}

func TestOverwriteCountersTouchesBothColumns(t *testing.T) {
	repo, mockDB := newProductRepo(t)

	mockDB.ExpectExec("UPDATE products SET stock_packages = $2, stock_units_loose = $3").
		WithArgs(productID, 8, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.OverwriteCounters(context.Background(), productID, 8, 20))
	mockDB.ExpectationsWereMet(t)
}
