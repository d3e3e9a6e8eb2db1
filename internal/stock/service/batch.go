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
	"github.com/vintrack/vintrack-backend/pkg/metrics"
)

// ReceiveBatchInput describes a physical lot entering stock.
type ReceiveBatchInput struct {
	ProductID        string
	Code             string
	ManufacturedDate time.Time
	ExpiryDate       time.Time
	Quantity         int
}

// RecallBatchInput pulls a lot out of circulation.
type RecallBatchInput struct {
	BatchID string
	Reason  string
}

// BatchService manages the lifecycle of stock batches. Receipts and recalls
// go through the ledger like every other stock change.
type BatchService struct {
	db        *database.DB
	products  *repository.ProductRepository
	batches   *repository.BatchRepository
	movements *repository.MovementRepository
	publisher *events.StockEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(
	db *database.DB,
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	movements *repository.MovementRepository,
	publisher *events.StockEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		db:        db,
		products:  products,
		batches:   batches,
		movements: movements,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("batch"),
	}
}

// Receive creates a batch and records the matching inbound ledger movement
// in one transaction, so batch stock and the loose-unit counter move
// together.
func (s *BatchService) Receive(ctx context.Context, input *ReceiveBatchInput) (*repository.StockBatch, error) {
	if input.Quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if input.Code == "" {
		return nil, errors.BadRequest("batch code is required")
	}
	if !input.ExpiryDate.After(input.ManufacturedDate) {
		return nil, errors.BadRequest("expiry date must be after manufactured date")
	}

	batch := &repository.StockBatch{
		ProductID:        input.ProductID,
		Code:             input.Code,
		ManufacturedDate: input.ManufacturedDate,
		ExpiryDate:       input.ExpiryDate,
		QtyTotal:         input.Quantity,
		QtyRemaining:     input.Quantity,
		Status:           repository.BatchStatusActive,
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		product, err := s.products.GetByIDForUpdate(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}

		if err := s.batches.Create(ctx, tx, batch); err != nil {
			return err
		}

		previous := product.CounterFor(repository.VariantUnit)
		metadata, _ := json.Marshal(map[string]string{
			"batch_code":  batch.Code,
			"expiry_date": batch.ExpiryDate.Format("2006-01-02"),
		})
		movement := &repository.StockMovement{
			ProductID:     input.ProductID,
			BatchID:       &batch.ID,
			Variant:       repository.VariantUnit,
			Delta:         input.Quantity,
			MovementType:  repository.MovementTransferIn,
			Reason:        "batch received",
			Metadata:      metadata,
			ActorID:       actor.IDFromContext(ctx),
			PreviousStock: previous,
			NewStock:      previous + input.Quantity,
		}
		if err := s.movements.Insert(ctx, tx, movement); err != nil {
			return err
		}

		return s.products.SetCounter(ctx, tx, input.ProductID, repository.VariantUnit, previous+input.Quantity)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.MovementsRecorded.WithLabelValues(repository.MovementTransferIn).Inc()
	s.publisher.PublishBatchReceived(ctx, batch)
	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("product_id", batch.ProductID).
		Str("code", batch.Code).
		Int("quantity", batch.QtyTotal).
		Msg("batch received")

	return batch, nil
}

// Recall zeroes a batch's remaining stock, flags it recalled and writes the
// offsetting outbound movement. The batch keeps its history; it just stops
// being allocatable.
func (s *BatchService) Recall(ctx context.Context, input *RecallBatchInput) (*repository.StockBatch, error) {
	if input.Reason == "" {
		return nil, errors.BadRequest("recall reason is required")
	}

	var batch *repository.StockBatch

	// Peek at the batch outside the transaction to learn its product, then
	// lock product before batch inside it. Every writer takes locks in that
	// order, which keeps recalls and allocations from deadlocking.
	peek, err := s.batches.GetByID(ctx, input.BatchID)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		product, err := s.products.GetByIDForUpdate(ctx, tx, peek.ProductID)
		if err != nil {
			return err
		}

		batch, err = s.batches.GetByIDForUpdate(ctx, tx, input.BatchID)
		if err != nil {
			return err
		}
		if batch.Status == repository.BatchStatusRecalled {
			return errors.Conflict("batch is already recalled")
		}

		pulled := batch.QtyRemaining
		if err := s.batches.MarkRecalled(ctx, tx, batch.ID); err != nil {
			return err
		}

		if pulled > 0 {
			previous := product.CounterFor(repository.VariantUnit)
			metadata, _ := json.Marshal(map[string]string{"batch_code": batch.Code})
			movement := &repository.StockMovement{
				ProductID:     batch.ProductID,
				BatchID:       &batch.ID,
				Variant:       repository.VariantUnit,
				Delta:         -pulled,
				MovementType:  repository.MovementTransferOut,
				Reason:        input.Reason,
				Metadata:      metadata,
				ActorID:       actor.IDFromContext(ctx),
				PreviousStock: previous,
				NewStock:      previous - pulled,
			}
			if err := s.movements.Insert(ctx, tx, movement); err != nil {
				return err
			}
			if err := s.products.SetCounter(ctx, tx, batch.ProductID, repository.VariantUnit, previous-pulled); err != nil {
				return err
			}
		}

		batch.QtyRemaining = 0
		batch.Status = repository.BatchStatusRecalled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishBatchRecalled(ctx, batch)
	s.logger.Warn().
		Str("batch_id", batch.ID).
		Str("product_id", batch.ProductID).
		Str("reason", input.Reason).
		Msg("batch recalled")

	return batch, nil
}

// ListByProduct lists a product's batches in FEFO order.
func (s *BatchService) ListByProduct(ctx context.Context, productID string) ([]*repository.StockBatch, error) {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.batches.ListByProduct(ctx, productID)
}

// SweepExpired marks active batches past their expiry date as expired so
// the allocator stops considering them. Returns how many were swept.
func (s *BatchService) SweepExpired(ctx context.Context) (int64, error) {
	swept, err := s.batches.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.logger.Info().Int64("batches", swept).Msg("expired batches swept")
	}
	return swept, nil
}
