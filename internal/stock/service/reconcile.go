package service

import (
	"context"
	"time"

	"github.com/vintrack/vintrack-backend/internal/stock/events"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/messaging"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
)

// Discrepancy describes one counter that disagrees with the replayed ledger.
type Discrepancy struct {
	ProductID   string             `json:"product_id"`
	ProductName string             `json:"product_name"`
	Variant     repository.Variant `json:"variant"`
	Counter     int                `json:"counter"`
	Replayed    int                `json:"replayed"`
	Drift       int                `json:"drift"`
}

// ValidationReport is the outcome of one reconciliation pass.
type ValidationReport struct {
	CheckedAt        time.Time                   `json:"checked_at"`
	ProductsChecked  int                         `json:"products_checked"`
	Discrepancies    []Discrepancy               `json:"discrepancies"`
	NegativeCounters []Discrepancy               `json:"negative_counters"`
	OrphanMovements  []*repository.StockMovement `json:"orphan_movements"`
	Healthy          bool                        `json:"healthy"`
}

// CorrectionReport lists the counters auto-correct overwrote.
type CorrectionReport struct {
	CorrectedAt time.Time     `json:"corrected_at"`
	Corrections []Discrepancy `json:"corrections"`
}

// ReconcileService checks the materialized counters against a full replay
// of the movement ledger. The ledger is the ground truth; counters are a
// cache that can be rebuilt from it.
type ReconcileService struct {
	db        *database.DB
	products  *repository.ProductRepository
	movements *repository.MovementRepository
	publisher *events.StockEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(
	db *database.DB,
	products *repository.ProductRepository,
	movements *repository.MovementRepository,
	publisher *events.StockEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *ReconcileService {
	return &ReconcileService{
		db:        db,
		products:  products,
		movements: movements,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("reconcile"),
	}
}

// Validate replays the ledger and reports counters that drifted, counters
// that went negative, and movements pointing at products that no longer
// exist. An empty productID checks every active product; a non-empty one
// scopes the pass to that product and skips the orphan scan, since orphans
// by definition have no surviving product to scope to. It never modifies
// anything.
func (s *ReconcileService) Validate(ctx context.Context, productID string) (*ValidationReport, error) {
	report := &ValidationReport{
		CheckedAt:        time.Now().UTC(),
		Discrepancies:    []Discrepancy{},
		NegativeCounters: []Discrepancy{},
		OrphanMovements:  []*repository.StockMovement{},
	}

	var products []*repository.Product
	if productID != "" {
		product, err := s.products.GetByID(ctx, productID)
		if err != nil {
			return nil, err
		}
		products = []*repository.Product{product}
	} else {
		var err error
		products, err = s.products.GetAllActive(ctx)
		if err != nil {
			return nil, err
		}
	}
	report.ProductsChecked = len(products)

	replayByProduct := make(map[string]*repository.ReplayedStock)
	if productID != "" {
		replay, err := s.movements.Replay(ctx, productID)
		if err != nil {
			return nil, err
		}
		replayByProduct[productID] = replay
	} else {
		replayed, err := s.movements.ReplayAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range replayed {
			replayByProduct[r.ProductID] = r
		}
	}

	for _, p := range products {
		// A product with no movements should sit at zero on both counters.
		replay := replayByProduct[p.ID]
		if replay == nil {
			replay = &repository.ReplayedStock{ProductID: p.ID}
		}

		s.check(report, p, repository.VariantPackage, p.StockPackages, replay.Packages)
		s.check(report, p, repository.VariantUnit, p.StockUnitsLoose, replay.UnitsLoose)
	}

	if productID == "" {
		orphans, err := s.movements.ListOrphans(ctx)
		if err != nil {
			return nil, err
		}
		report.OrphanMovements = orphans
	}

	for _, d := range report.Discrepancies {
		s.publisher.PublishDriftDetected(ctx, &messaging.DriftDetectedEvent{
			ProductID:     d.ProductID,
			Variant:       string(d.Variant),
			CounterValue:  d.Counter,
			ReplayedValue: d.Replayed,
		})
	}

	report.Healthy = len(report.Discrepancies) == 0 &&
		len(report.NegativeCounters) == 0 &&
		len(report.OrphanMovements) == 0

	if !report.Healthy {
		s.logger.Warn().
			Int("discrepancies", len(report.Discrepancies)).
			Int("negative_counters", len(report.NegativeCounters)).
			Int("orphan_movements", len(report.OrphanMovements)).
			Msg("reconciliation found drift")
	}

	return report, nil
}

func (s *ReconcileService) check(report *ValidationReport, p *repository.Product, v repository.Variant, counter, replayed int) {
	if counter < 0 {
		report.NegativeCounters = append(report.NegativeCounters, Discrepancy{
			ProductID:   p.ID,
			ProductName: p.Name,
			Variant:     v,
			Counter:     counter,
			Replayed:    replayed,
			Drift:       counter - replayed,
		})
	}
	if counter == replayed {
		return
	}

	s.metrics.DriftDetected.Inc()
	report.Discrepancies = append(report.Discrepancies, Discrepancy{
		ProductID:   p.ID,
		ProductName: p.Name,
		Variant:     v,
		Counter:     counter,
		Replayed:    replayed,
		Drift:       counter - replayed,
	})
	s.logger.Warn().
		Str("product_id", p.ID).
		Str("variant", string(v)).
		Int("counter", counter).
		Int("replayed", replayed).
		Msg("counter drifted from ledger")
}

// AutoCorrect runs Validate and overwrites every drifted counter with its
// replayed value. An empty productID corrects the whole store. Running it
// twice in a row is a no-op the second time.
func (s *ReconcileService) AutoCorrect(ctx context.Context, productID string) (*CorrectionReport, error) {
	validation, err := s.Validate(ctx, productID)
	if err != nil {
		return nil, err
	}

	report := &CorrectionReport{
		CorrectedAt: time.Now().UTC(),
		Corrections: []Discrepancy{},
	}

	// Group per product so both counters are overwritten in one statement.
	byProduct := make(map[string][2]*Discrepancy)
	order := []string{}
	for i := range validation.Discrepancies {
		d := &validation.Discrepancies[i]
		pair, seen := byProduct[d.ProductID]
		if !seen {
			order = append(order, d.ProductID)
		}
		if d.Variant == repository.VariantPackage {
			pair[0] = d
		} else {
			pair[1] = d
		}
		byProduct[d.ProductID] = pair
	}

	for _, productID := range order {
		product, err := s.products.GetByID(ctx, productID)
		if err != nil {
			return nil, err
		}

		packages := product.StockPackages
		units := product.StockUnitsLoose
		pair := byProduct[productID]
		if pair[0] != nil {
			packages = pair[0].Replayed
		}
		if pair[1] != nil {
			units = pair[1].Replayed
		}

		if err := s.products.OverwriteCounters(ctx, productID, packages, units); err != nil {
			return nil, err
		}

		for _, d := range pair {
			if d == nil {
				continue
			}
			s.metrics.DriftCorrected.Inc()
			report.Corrections = append(report.Corrections, *d)
			s.publisher.PublishDriftCorrected(ctx, &messaging.DriftCorrectedEvent{
				ProductID:      d.ProductID,
				Variant:        string(d.Variant),
				CounterValue:   d.Counter,
				ReplayedValue:  d.Replayed,
				CorrectedValue: d.Replayed,
			})
			s.logger.Info().
				Str("product_id", d.ProductID).
				Str("variant", string(d.Variant)).
				Int("from", d.Counter).
				Int("to", d.Replayed).
				Msg("counter overwritten from ledger")
		}
	}

	return report, nil
}
