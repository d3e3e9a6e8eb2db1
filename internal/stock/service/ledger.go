package service

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/vintrack/vintrack-backend/internal/stock/events"
	"github.com/vintrack/vintrack-backend/internal/stock/outbox"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/actor"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/errors"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
)

// OutboxKindMovement marks outbox entries that replay a stock movement.
const OutboxKindMovement = "stock.movement"

// Movement statuses returned to callers.
const (
	MovementStatusCommitted = "committed"
	MovementStatusQueued    = "queued"
)

// RecordMovementInput describes one ledger movement to record.
type RecordMovementInput struct {
	ProductID     string          `json:"product_id"`
	BatchID       *string         `json:"batch_id,omitempty"`
	Variant       repository.Variant `json:"variant"`
	Delta         int             `json:"delta"`
	MovementType  string          `json:"movement_type"`
	Reason        string          `json:"reason"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	AdminOverride bool            `json:"admin_override,omitempty"`
}

// RecordMovementResult reports how a movement was handled. Queued movements
// carry no snapshots; they will be replayed by the outbox flusher.
type RecordMovementResult struct {
	Status   string                    `json:"status"`
	Movement *repository.StockMovement `json:"movement,omitempty"`
	EntryID  string                    `json:"entry_id,omitempty"`
}

// QueuedMovement is the outbox payload for a movement that could not be
// committed while the store was unavailable.
type QueuedMovement struct {
	Input   RecordMovementInput `json:"input"`
	ActorID string              `json:"actor_id"`
}

// LedgerService owns the append-only movement ledger and the materialized
// counters derived from it.
type LedgerService struct {
	db        *database.DB
	products  *repository.ProductRepository
	batches   *repository.BatchRepository
	movements *repository.MovementRepository
	outbox    *outbox.Outbox
	publisher *events.StockEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	db *database.DB,
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	movements *repository.MovementRepository,
	ob *outbox.Outbox,
	publisher *events.StockEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		db:        db,
		products:  products,
		batches:   batches,
		movements: movements,
		outbox:    ob,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("ledger"),
	}
}

// Record validates and commits a single movement. The counter update and the
// ledger append happen in one transaction, so the ledger can always be
// replayed into the counters. When the store is unreachable the movement is
// queued in the outbox instead of being dropped.
func (s *LedgerService) Record(ctx context.Context, input *RecordMovementInput) (*RecordMovementResult, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	movement, err := s.commit(ctx, input, actor.IDFromContext(ctx))
	if err != nil {
		if database.IsTransient(err) {
			return s.enqueue(ctx, input, err)
		}
		return nil, err
	}

	s.metrics.MovementsRecorded.WithLabelValues(movement.MovementType).Inc()
	s.publisher.PublishMovementRecorded(ctx, movement)
	s.logger.Info().
		Str("movement_id", movement.ID).
		Str("product_id", movement.ProductID).
		Str("movement_type", movement.MovementType).
		Int("delta", movement.Delta).
		Int("new_stock", movement.NewStock).
		Msg("movement recorded")

	return &RecordMovementResult{Status: MovementStatusCommitted, Movement: movement}, nil
}

// Replay commits a previously queued movement. Unlike Record it never
// re-queues; a transient failure is returned to the outbox flusher, which
// owns the retry budget.
func (s *LedgerService) Replay(ctx context.Context, queued *QueuedMovement) error {
	if err := s.validate(&queued.Input); err != nil {
		return err
	}

	movement, err := s.commit(ctx, &queued.Input, queued.ActorID)
	if err != nil {
		return err
	}

	s.metrics.MovementsRecorded.WithLabelValues(movement.MovementType).Inc()
	s.publisher.PublishMovementRecorded(ctx, movement)
	s.logger.Info().
		Str("movement_id", movement.ID).
		Str("product_id", movement.ProductID).
		Msg("queued movement replayed")
	return nil
}

func (s *LedgerService) validate(input *RecordMovementInput) error {
	if !repository.IsValidMovementType(input.MovementType) {
		return errors.InvalidMovementType(input.MovementType)
	}
	if !input.Variant.IsValid() {
		return errors.BadRequest("variant must be package or unit")
	}
	if input.Delta == 0 {
		return errors.BadRequest("delta must be non-zero")
	}
	return nil
}

// commit performs the transactional part of recording a movement: lock the
// product row, derive the new counter from the previous one, append the
// movement with both snapshots, then write the counter.
func (s *LedgerService) commit(ctx context.Context, input *RecordMovementInput, actorID string) (*repository.StockMovement, error) {
	var movement *repository.StockMovement

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		product, err := s.products.GetByIDForUpdate(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}

		previous := product.CounterFor(input.Variant)
		next := previous + input.Delta
		if next < 0 && !input.AdminOverride {
			return errors.InsufficientStock(input.ProductID, string(input.Variant), previous, -input.Delta)
		}
		if next < 0 {
			s.logger.Warn().
				Str("product_id", input.ProductID).
				Int("new_stock", next).
				Str("actor_id", actorID).
				Msg("admin override drove counter negative")
		}

		movement = &repository.StockMovement{
			ProductID:     input.ProductID,
			BatchID:       input.BatchID,
			Variant:       input.Variant,
			Delta:         input.Delta,
			MovementType:  input.MovementType,
			Reason:        input.Reason,
			Metadata:      input.Metadata,
			ActorID:       actorID,
			PreviousStock: previous,
			NewStock:      next,
		}
		if err := s.movements.Insert(ctx, tx, movement); err != nil {
			return err
		}

		return s.products.SetCounter(ctx, tx, input.ProductID, input.Variant, next)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// enqueue routes a movement to the outbox after a transient store failure.
func (s *LedgerService) enqueue(ctx context.Context, input *RecordMovementInput, cause error) (*RecordMovementResult, error) {
	queued := &QueuedMovement{Input: *input, ActorID: actor.IDFromContext(ctx)}

	entry, err := s.outbox.Enqueue(ctx, OutboxKindMovement, movementPriority(input.MovementType), queued)
	if err != nil {
		s.logger.Error().Err(err).Str("product_id", input.ProductID).Msg("failed to queue movement after store failure")
		return nil, errors.Transient(cause)
	}

	s.metrics.MovementsQueued.Inc()
	s.publisher.PublishMovementQueued(ctx, entry.ID, input.ProductID, input.MovementType)
	s.logger.Warn().
		Err(cause).
		Str("entry_id", entry.ID).
		Str("product_id", input.ProductID).
		Msg("store unavailable, movement queued")

	return &RecordMovementResult{Status: MovementStatusQueued, EntryID: entry.ID}, nil
}

// movementPriority maps a movement type to its outbox priority. Sales must
// never be lost, so they outrank bookkeeping movements.
func movementPriority(movementType string) outbox.Priority {
	switch movementType {
	case repository.MovementSale:
		return outbox.PriorityCritical
	case repository.MovementInitialStock, repository.MovementReturn,
		repository.MovementTransferIn, repository.MovementTransferOut:
		return outbox.PriorityHigh
	case repository.MovementInventoryAdjustment:
		return outbox.PriorityMedium
	default:
		return outbox.PriorityLow
	}
}

// CurrentStock returns a product with its batches, expiry-ordered.
func (s *LedgerService) CurrentStock(ctx context.Context, productID string) (*repository.Product, []*repository.StockBatch, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, nil, err
	}

	batches, err := s.batches.ListByProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	return product, batches, nil
}

// MovementHistory lists a product's ledger entries, newest first.
func (s *LedgerService) MovementHistory(ctx context.Context, productID string, page, perPage int) ([]*repository.StockMovement, int64, error) {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, 0, err
	}
	return s.movements.ListByProduct(ctx, productID, page, perPage)
}
