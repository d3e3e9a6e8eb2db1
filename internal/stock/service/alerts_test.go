package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
	"github.com/vintrack/vintrack-backend/pkg/testutil"
)

func newAlertFixture(t *testing.T, horizonDays int) (*AlertService, *testutil.MockDB, time.Time) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	log := logger.New("test", "test")
	db := database.Wrap(mockDB.DB, log)

	svc := NewAlertService(
		repository.NewProductRepository(db),
		repository.NewBatchRepository(db),
		nil,
		metrics.NewNop(),
		log,
		horizonDays,
	)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, mockDB, now
}

func TestClassifyExpiryTiers(t *testing.T) {
	tests := []struct {
		name    string
		days    int
		horizon int
		urgency string
		flagged bool
	}{
		{"already expired", -2, 30, UrgencyCritical, true},
		{"expires today", 0, 30, UrgencyCritical, true},
		{"boundary of critical", 3, 30, UrgencyCritical, true},
		{"just past critical", 4, 30, UrgencyWarning, true},
		{"boundary of warning", 7, 30, UrgencyWarning, true},
		{"just past warning", 8, 30, UrgencyInfo, true},
		{"boundary of horizon", 30, 30, UrgencyInfo, true},
		{"past horizon", 31, 30, "", false},
		{"short horizon caps info tier", 12, 10, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urgency, flagged := classifyExpiry(tt.days, tt.horizon)
			assert.Equal(t, tt.flagged, flagged)
			assert.Equal(t, tt.urgency, urgency)
		})
	}
}

var expiringColumns = append(append([]string{}, batchColumns...), "product_name", "price_unit")

func TestExpiryAlertsOrderedMostUrgentFirst(t *testing.T) {
	svc, mockDB, now := newAlertFixture(t, 30)

	manufactured := now.AddDate(0, -6, 0)
	rows := testutil.MockRows(expiringColumns...).
		AddRow(batch1ID, testProductID, "LOT-A", manufactured, now.AddDate(0, 0, 2),
			5, 5, "active", 1, now, now, "Rioja Reserva", "15.50").
		AddRow(batch2ID, testProductID, "LOT-B", manufactured, now.AddDate(0, 0, 20),
			20, 12, "active", 2, now, now, "Rioja Reserva", "15.50")

	// One joined query covers the whole scan; no per-batch product reads.
	mockDB.ExpectQuery("JOIN products p ON p.id = b.product_id").
		WithArgs(30).
		WillReturnRows(rows)

	alerts, err := svc.ExpiryAlerts(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, alerts, 2)
	assert.Equal(t, batch1ID, alerts[0].BatchID)
	assert.Equal(t, "Rioja Reserva", alerts[0].ProductName)
	assert.Equal(t, UrgencyCritical, alerts[0].Urgency)
	assert.Equal(t, 2, alerts[0].DaysUntilExpiry)
	assert.Equal(t, batch2ID, alerts[1].BatchID)
	assert.Equal(t, UrgencyInfo, alerts[1].Urgency)

	// Value at risk is unit price times what is left in the batch.
	assert.Equal(t, "77.5", alerts[0].ValueAtRisk.String())
	assert.Equal(t, "186", alerts[1].ValueAtRisk.String())
	mockDB.ExpectationsWereMet(t)
}

func TestExpiryAlertsFlagsExpiredStockAsCritical(t *testing.T) {
	svc, mockDB, now := newAlertFixture(t, 30)

	manufactured := now.AddDate(0, -12, 0)
	rows := testutil.MockRows(expiringColumns...).
		AddRow(batch1ID, testProductID, "LOT-OLD", manufactured, now.AddDate(0, 0, -5),
			10, 4, "expired", 1, now, now, "Rioja Reserva", "15.50")

	mockDB.ExpectQuery("JOIN products p ON p.id = b.product_id").
		WithArgs(30).
		WillReturnRows(rows)

	alerts, err := svc.ExpiryAlerts(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, UrgencyCritical, alerts[0].Urgency)
	assert.Equal(t, -5, alerts[0].DaysUntilExpiry)
	assert.Equal(t, 4, alerts[0].QtyRemaining)
}

func TestLowStockAlertsChecksVariantsIndependently(t *testing.T) {
	svc, mockDB, _ := newAlertFixture(t, 30)

	now := time.Now()
	// Packages below minimum, loose units fine; and a second product with
	// loose units at zero.
	rows := testutil.MockRows(productColumns...).
		AddRow(testProductID, "Rioja Reserva", "red", 2, 24,
			nil, "89.90", "15.50", 5, 10, true, now, now).
		AddRow("22222222-2222-2222-2222-222222222222", "Albarino", "white", 8, 0,
			nil, "59.00", "10.00", 5, 6, true, now, now)

	mockDB.ExpectQuery("SELECT * FROM products WHERE is_active = true").
		WillReturnRows(rows)

	alerts, err := svc.LowStockAlerts(context.Background())
	require.NoError(t, err)

	require.Len(t, alerts, 2)

	// Zero stock sorts first as critical.
	assert.Equal(t, "Albarino", alerts[0].ProductName)
	assert.Equal(t, repository.VariantUnit, alerts[0].Variant)
	assert.Equal(t, UrgencyCritical, alerts[0].Urgency)
	assert.Zero(t, alerts[0].Current)

	assert.Equal(t, "Rioja Reserva", alerts[1].ProductName)
	assert.Equal(t, repository.VariantPackage, alerts[1].Variant)
	assert.Equal(t, UrgencyLow, alerts[1].Urgency)
	assert.Equal(t, 2, alerts[1].Current)
	assert.Equal(t, 5, alerts[1].Minimum)
	mockDB.ExpectationsWereMet(t)
}

func TestLowStockAlertsSkipsUnsetThresholds(t *testing.T) {
	svc, mockDB, _ := newAlertFixture(t, 30)

	mockDB.ExpectQuery("SELECT * FROM products WHERE is_active = true").
		WillReturnRows(productRow(testProductID, 0, 0))

	alerts, err := svc.LowStockAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
