package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vintrack/vintrack-backend/internal/stock/events"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/actor"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/errors"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/messaging"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
)

// AllocateSaleInput describes a sale to be filled from batches.
type AllocateSaleInput struct {
	ProductID          string
	Quantity           int
	AllowPartial       bool
	MaxDaysUntilExpiry *int
	Reason             string
}

// AllocationLine records how much of the sale one batch supplied.
type AllocationLine struct {
	BatchID         string    `json:"batch_id"`
	BatchCode       string    `json:"batch_code"`
	Quantity        int       `json:"quantity"`
	ExpiryDate      time.Time `json:"expiry_date"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
}

// AllocationResult is the outcome of a committed allocation.
type AllocationResult struct {
	ProductID   string                      `json:"product_id"`
	Requested   int                         `json:"units_requested"`
	Allocated   int                         `json:"units_sold"`
	Shortfall   int                         `json:"shortfall"`
	PartialSale bool                        `json:"partial_sale"`
	Lines       []AllocationLine            `json:"batches_used"`
	Movements   []*repository.StockMovement `json:"movements"`
}

// AllocatorService fills sales from batches in first-expire-first-out order.
// An allocation either commits in full (movements, batch decrements, counter
// update together) or leaves no trace.
type AllocatorService struct {
	db        *database.DB
	products  *repository.ProductRepository
	batches   *repository.BatchRepository
	movements *repository.MovementRepository
	publisher *events.StockEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	retries   int
	now       func() time.Time
}

// NewAllocatorService creates a new allocator service
func NewAllocatorService(
	db *database.DB,
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	movements *repository.MovementRepository,
	publisher *events.StockEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
	retries int,
) *AllocatorService {
	if retries <= 0 {
		retries = 3
	}
	return &AllocatorService{
		db:        db,
		products:  products,
		batches:   batches,
		movements: movements,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("allocator"),
		retries:   retries,
		now:       time.Now,
	}
}

// AllocateSale fills a sale from active batches ordered by expiry date, then
// arrival order. Concurrent decrement conflicts restart the whole allocation
// up to the retry budget; past it the caller gets a conflict error and no
// stock has moved.
func (s *AllocatorService) AllocateSale(ctx context.Context, input *AllocateSaleInput) (*AllocationResult, error) {
	if input.Quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if input.MaxDaysUntilExpiry != nil && *input.MaxDaysUntilExpiry < 0 {
		return nil, errors.BadRequest("max_days_until_expiry must not be negative")
	}

	var result *AllocationResult
	var err error

	for attempt := 1; attempt <= s.retries; attempt++ {
		result, err = s.allocateOnce(ctx, input)
		if err == nil {
			break
		}
		if !errors.Is(err, errors.ErrConcurrentModification) {
			s.metrics.AllocationsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}

		s.metrics.AllocationConflicts.Inc()
		s.logger.Warn().
			Str("product_id", input.ProductID).
			Int("attempt", attempt).
			Msg("allocation conflict, retrying")
	}
	if err != nil {
		s.metrics.AllocationsTotal.WithLabelValues("failed").Inc()
		return nil, errors.ConcurrentModification("stock batches")
	}

	outcome := "full"
	if result.PartialSale {
		outcome = "partial"
	}
	s.metrics.AllocationsTotal.WithLabelValues(outcome).Inc()

	batchIDs := make([]string, 0, len(result.Lines))
	for _, line := range result.Lines {
		batchIDs = append(batchIDs, line.BatchID)
	}
	s.publisher.PublishSaleAllocated(ctx, &messaging.SaleAllocatedEvent{
		ProductID:      input.ProductID,
		UnitsRequested: input.Quantity,
		UnitsSold:      result.Allocated,
		PartialSale:    result.PartialSale,
		BatchIDs:       batchIDs,
		ActorID:        actor.IDFromContext(ctx),
	})

	s.logger.Info().
		Str("product_id", input.ProductID).
		Int("requested", input.Quantity).
		Int("allocated", result.Allocated).
		Bool("partial", result.PartialSale).
		Int("batches", len(result.Lines)).
		Msg("sale allocated")

	return result, nil
}

func (s *AllocatorService) allocateOnce(ctx context.Context, input *AllocateSaleInput) (*AllocationResult, error) {
	now := s.now()
	var maxExpiry *time.Time
	if input.MaxDaysUntilExpiry != nil {
		cutoff := now.AddDate(0, 0, *input.MaxDaysUntilExpiry)
		maxExpiry = &cutoff
	}

	result := &AllocationResult{
		ProductID: input.ProductID,
		Requested: input.Quantity,
		Lines:     []AllocationLine{},
		Movements: []*repository.StockMovement{},
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		product, err := s.products.GetByIDForUpdate(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}

		batches, err := s.batches.ListAllocatable(ctx, tx, input.ProductID, maxExpiry)
		if err != nil {
			return err
		}

		available := 0
		for _, b := range batches {
			available += b.QtyRemaining
		}
		if available < input.Quantity && !input.AllowPartial {
			return errors.InsufficientBatchStock(input.ProductID, available, input.Quantity)
		}

		counter := product.CounterFor(repository.VariantUnit)
		remaining := input.Quantity

		for _, b := range batches {
			if remaining == 0 {
				break
			}
			take := b.QtyRemaining
			if take > remaining {
				take = remaining
			}

			ok, err := s.batches.DecrementRemaining(ctx, tx, b.ID, b.QtyRemaining, take)
			if err != nil {
				return err
			}
			if !ok {
				// Another writer changed the batch between listing and
				// decrement. Roll back and restart the whole allocation.
				return errors.ConcurrentModification("stock batch " + b.ID)
			}

			batchID := b.ID
			metadata, _ := json.Marshal(map[string]interface{}{
				"batch_code":   b.Code,
				"expiry_date":  b.ExpiryDate.Format("2006-01-02"),
				"qty_from_lot": take,
			})
			movement := &repository.StockMovement{
				ProductID:     input.ProductID,
				BatchID:       &batchID,
				Variant:       repository.VariantUnit,
				Delta:         -take,
				MovementType:  repository.MovementSale,
				Reason:        input.Reason,
				Metadata:      metadata,
				ActorID:       actor.IDFromContext(ctx),
				PreviousStock: counter,
				NewStock:      counter - take,
			}
			if err := s.movements.Insert(ctx, tx, movement); err != nil {
				return err
			}

			counter -= take
			remaining -= take
			result.Allocated += take
			result.Movements = append(result.Movements, movement)
			result.Lines = append(result.Lines, AllocationLine{
				BatchID:         b.ID,
				BatchCode:       b.Code,
				Quantity:        take,
				ExpiryDate:      b.ExpiryDate,
				DaysUntilExpiry: b.DaysUntilExpiry(now),
			})
		}

		if result.Allocated > 0 {
			if err := s.products.SetCounter(ctx, tx, input.ProductID, repository.VariantUnit, counter); err != nil {
				return err
			}
		}

		result.Shortfall = input.Quantity - result.Allocated
		result.PartialSale = result.Shortfall > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
