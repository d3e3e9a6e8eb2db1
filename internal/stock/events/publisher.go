package events

import (
	"context"

	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/messaging"
)

// StockEventPublisher publishes stock-related events. A nil publisher is
// valid and drops all events, so the service layer never needs to branch
// on whether messaging is configured.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishMovementRecorded publishes a movement recorded event
func (p *StockEventPublisher) PublishMovementRecorded(ctx context.Context, m *repository.StockMovement) {
	if p == nil {
		return
	}
	batchID := ""
	if m.BatchID != nil {
		batchID = *m.BatchID
	}

	data := messaging.MovementRecordedEvent{
		MovementID:    m.ID,
		ProductID:     m.ProductID,
		BatchID:       batchID,
		Variant:       string(m.Variant),
		MovementType:  m.MovementType,
		Delta:         m.Delta,
		PreviousStock: m.PreviousStock,
		NewStock:      m.NewStock,
		ActorID:       m.ActorID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventMovementRecorded, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", m.ProductID).Msg("failed to publish movement recorded event")
	}
}

// PublishMovementQueued publishes an event for a movement parked in the
// outbox. Note the event mirrors the caller's 202 response: the movement
// is accepted, not yet visible in stock.
func (p *StockEventPublisher) PublishMovementQueued(ctx context.Context, entryID, productID, movementType string) {
	if p == nil {
		return
	}
	data := map[string]string{
		"entry_id":      entryID,
		"product_id":    productID,
		"movement_type": movementType,
	}

	if err := p.publisher.Publish(ctx, messaging.EventMovementQueued, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", productID).Msg("failed to publish movement queued event")
	}
}

// PublishSaleAllocated publishes a sale allocated event
func (p *StockEventPublisher) PublishSaleAllocated(ctx context.Context, data *messaging.SaleAllocatedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventSaleAllocated, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", data.ProductID).Msg("failed to publish sale allocated event")
	}
}

// PublishBatchReceived publishes a batch received event
func (p *StockEventPublisher) PublishBatchReceived(ctx context.Context, b *repository.StockBatch) {
	if p == nil {
		return
	}
	data := messaging.BatchReceivedEvent{
		BatchID:    b.ID,
		ProductID:  b.ProductID,
		Code:       b.Code,
		Quantity:   b.QtyTotal,
		ExpiryDate: b.ExpiryDate,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchReceived, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", b.ID).Msg("failed to publish batch received event")
	}
}

// PublishBatchRecalled publishes a batch recalled event
func (p *StockEventPublisher) PublishBatchRecalled(ctx context.Context, b *repository.StockBatch) {
	if p == nil {
		return
	}
	data := messaging.BatchReceivedEvent{
		BatchID:    b.ID,
		ProductID:  b.ProductID,
		Code:       b.Code,
		Quantity:   b.QtyRemaining,
		ExpiryDate: b.ExpiryDate,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchRecalled, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", b.ID).Msg("failed to publish batch recalled event")
	}
}

// PublishDriftDetected publishes a drift detected event
func (p *StockEventPublisher) PublishDriftDetected(ctx context.Context, data *messaging.DriftDetectedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventDriftDetected, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", data.ProductID).Msg("failed to publish drift detected event")
	}
}

// PublishDriftCorrected publishes a drift corrected event
func (p *StockEventPublisher) PublishDriftCorrected(ctx context.Context, data *messaging.DriftCorrectedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventDriftCorrected, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", data.ProductID).Msg("failed to publish drift corrected event")
	}
}

// PublishAlertRaised publishes an alert raised event
func (p *StockEventPublisher) PublishAlertRaised(ctx context.Context, data *messaging.AlertRaisedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventAlertRaised, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", data.ProductID).Msg("failed to publish alert raised event")
	}
}
