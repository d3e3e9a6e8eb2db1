package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vintrack/vintrack-backend/internal/stock/events"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/messaging"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
)

// Alert urgencies, most severe first. Expiry alerts use critical/warning/
// info; low-stock alerts use critical/low.
const (
	UrgencyCritical = "critical"
	UrgencyWarning  = "warning"
	UrgencyInfo     = "info"
	UrgencyLow      = "low"
)

// ExpiryAlert flags a batch approaching or past its expiry date.
type ExpiryAlert struct {
	BatchID         string          `json:"batch_id"`
	BatchCode       string          `json:"batch_code"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	QtyRemaining    int             `json:"qty_remaining"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	DaysUntilExpiry int             `json:"days_until_expiry"`
	Urgency         string          `json:"urgency"`
	ValueAtRisk     decimal.Decimal `json:"value_at_risk"`
}

// LowStockAlert flags a counter at or below its configured minimum.
type LowStockAlert struct {
	ProductID   string             `json:"product_id"`
	ProductName string             `json:"product_name"`
	Variant     repository.Variant `json:"variant"`
	Current     int                `json:"current"`
	Minimum     int                `json:"minimum"`
	Urgency     string             `json:"urgency"`
}

// DashboardStats summarizes the stock position for the storefront dashboard.
type DashboardStats struct {
	Products       int             `json:"products"`
	TotalPackages  int             `json:"total_packages"`
	TotalUnits     int             `json:"total_units_loose"`
	ActiveBatches  int             `json:"active_batches"`
	ExpiringWithin int             `json:"expiring_within_horizon"`
	LowStockCount  int             `json:"low_stock_count"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	ValueAtRisk    decimal.Decimal `json:"value_at_risk"`
}

// AlertService computes expiry and low-stock alerts on demand. Alerts are
// derived, never stored; two calls over the same data give the same answer.
type AlertService struct {
	products    *repository.ProductRepository
	batches     *repository.BatchRepository
	publisher   *events.StockEventPublisher
	metrics     *metrics.Metrics
	logger      *logger.Logger
	horizonDays int
	now         func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	publisher *events.StockEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
	horizonDays int,
) *AlertService {
	if horizonDays <= 0 {
		horizonDays = 30
	}
	return &AlertService{
		products:    products,
		batches:     batches,
		publisher:   publisher,
		metrics:     m,
		logger:      log.WithComponent("alerts"),
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

// classifyExpiry maps days-until-expiry onto an urgency tier. Expired and
// nearly-expired stock is critical, the next few days are a warning, and
// the rest of the horizon is informational.
func classifyExpiry(daysUntilExpiry, horizonDays int) (string, bool) {
	switch {
	case daysUntilExpiry <= 3:
		return UrgencyCritical, true
	case daysUntilExpiry <= 7:
		return UrgencyWarning, true
	case daysUntilExpiry <= horizonDays:
		return UrgencyInfo, true
	default:
		return "", false
	}
}

// ExpiryAlerts lists batches with remaining stock expiring within the
// horizon, most urgent first. horizonDays <= 0 uses the configured default.
func (s *AlertService) ExpiryAlerts(ctx context.Context, horizonDays int) ([]ExpiryAlert, error) {
	if horizonDays <= 0 {
		horizonDays = s.horizonDays
	}
	now := s.now()

	batches, err := s.batches.GetExpiring(ctx, horizonDays)
	if err != nil {
		return nil, err
	}

	alerts := []ExpiryAlert{}
	for _, b := range batches {
		days := b.DaysUntilExpiry(now)
		urgency, ok := classifyExpiry(days, horizonDays)
		if !ok {
			continue
		}

		alert := ExpiryAlert{
			BatchID:         b.ID,
			BatchCode:       b.Code,
			ProductID:       b.ProductID,
			ProductName:     b.ProductName,
			QtyRemaining:    b.QtyRemaining,
			ExpiryDate:      b.ExpiryDate,
			DaysUntilExpiry: days,
			Urgency:         urgency,
			ValueAtRisk:     b.PriceUnit.Mul(decimal.NewFromInt(int64(b.QtyRemaining))),
		}
		alerts = append(alerts, alert)

		s.metrics.AlertsEmitted.WithLabelValues("expiry", urgency).Inc()
		if urgency == UrgencyCritical {
			s.publisher.PublishAlertRaised(ctx, &messaging.AlertRaisedEvent{
				AlertType: "expiry",
				Urgency:   urgency,
				ProductID: b.ProductID,
				BatchID:   b.ID,
				Message:   fmt.Sprintf("batch %s expires in %d days with %d units left", b.Code, days, b.QtyRemaining),
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].DaysUntilExpiry < alerts[j].DaysUntilExpiry
	})
	return alerts, nil
}

// LowStockAlerts checks every active product's counters against their
// configured minimums. Variants are independent; a product can be low on
// packages while loose units are fine.
func (s *AlertService) LowStockAlerts(ctx context.Context) ([]LowStockAlert, error) {
	products, err := s.products.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}

	alerts := []LowStockAlert{}
	for _, p := range products {
		for _, v := range []repository.Variant{repository.VariantPackage, repository.VariantUnit} {
			min := p.MinStockFor(v)
			if min == nil {
				continue
			}
			current := p.CounterFor(v)
			if current > *min {
				continue
			}

			urgency := UrgencyLow
			if current <= 0 {
				urgency = UrgencyCritical
			}
			alerts = append(alerts, LowStockAlert{
				ProductID:   p.ID,
				ProductName: p.Name,
				Variant:     v,
				Current:     current,
				Minimum:     *min,
				Urgency:     urgency,
			})
			s.metrics.AlertsEmitted.WithLabelValues("low_stock", urgency).Inc()
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Urgency != alerts[j].Urgency {
			return alerts[i].Urgency == UrgencyCritical
		}
		return alerts[i].ProductName < alerts[j].ProductName
	})
	return alerts, nil
}

// Dashboard aggregates the stock position in one pass.
func (s *AlertService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	products, err := s.products.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		Products:       len(products),
		InventoryValue: decimal.Zero,
		ValueAtRisk:    decimal.Zero,
	}

	for _, p := range products {
		stats.TotalPackages += p.StockPackages
		stats.TotalUnits += p.StockUnitsLoose
		stats.InventoryValue = stats.InventoryValue.
			Add(p.PricePackage.Mul(decimal.NewFromInt(int64(p.StockPackages)))).
			Add(p.PriceUnit.Mul(decimal.NewFromInt(int64(p.StockUnitsLoose))))

		for _, v := range []repository.Variant{repository.VariantPackage, repository.VariantUnit} {
			if min := p.MinStockFor(v); min != nil && p.CounterFor(v) <= *min {
				stats.LowStockCount++
			}
		}
	}

	active, err := s.batches.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}
	stats.ActiveBatches = len(active)

	expiring, err := s.batches.GetExpiring(ctx, s.horizonDays)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, b := range expiring {
		if _, ok := classifyExpiry(b.DaysUntilExpiry(now), s.horizonDays); !ok {
			continue
		}
		stats.ExpiringWithin++
		stats.ValueAtRisk = stats.ValueAtRisk.Add(b.PriceUnit.Mul(decimal.NewFromInt(int64(b.QtyRemaining))))
	}

	return stats, nil
}
