package service

import (
	"context"
	"time"

	"github.com/vintrack/vintrack-backend/internal/stock/outbox"
	"github.com/vintrack/vintrack-backend/pkg/config"
	"github.com/vintrack/vintrack-backend/pkg/errors"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// Scheduler drives the background maintenance loops: outbox flushing,
// counter reconciliation and the expired-batch sweep. Each loop runs on its
// own ticker so a slow reconciliation never delays an outbox flush.
type Scheduler struct {
	ledger    *LedgerService
	reconcile *ReconcileService
	batches   *BatchService
	outbox    *outbox.Outbox

	flushInterval     time.Duration
	flushBatch        int
	reconcileInterval time.Duration
	sweepInterval     time.Duration

	logger *logger.Logger
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(
	ledger *LedgerService,
	reconcile *ReconcileService,
	batches *BatchService,
	ob *outbox.Outbox,
	outboxCfg config.OutboxConfig,
	schedCfg config.SchedulerConfig,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		ledger:            ledger,
		reconcile:         reconcile,
		batches:           batches,
		outbox:            ob,
		flushInterval:     outboxCfg.FlushInterval,
		flushBatch:        outboxCfg.FlushBatch,
		reconcileInterval: schedCfg.ReconcileInterval,
		sweepInterval:     schedCfg.ExpirySweep,
		logger:            log.WithComponent("scheduler"),
	}
}

// Start launches the background loops. They run until Stop is called or the
// parent context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.loop(ctx, "outbox flush", s.flushInterval, s.flushOutbox)
	go s.loop(ctx, "reconciliation", s.reconcileInterval, s.runReconcile)
	go s.loop(ctx, "expiry sweep", s.sweepInterval, s.runSweep)

	s.logger.Info().
		Dur("flush_interval", s.flushInterval).
		Dur("reconcile_interval", s.reconcileInterval).
		Dur("sweep_interval", s.sweepInterval).
		Msg("scheduler started")
}

// Stop stops all background loops
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	if interval <= 0 {
		s.logger.Warn().Str("loop", name).Msg("loop disabled, interval not set")
		return
	}

	run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// flushOutbox replays queued movements. The outbox itself skips overlapping
// flushes, so a slow pass cannot pile up.
func (s *Scheduler) flushOutbox(ctx context.Context) {
	flushed, err := s.outbox.Flush(ctx, s.flushBatch, s.replayEntry)
	if err != nil {
		s.logger.Error().Err(err).Msg("outbox flush failed")
		return
	}
	if flushed > 0 {
		s.logger.Info().Int("flushed", flushed).Msg("outbox flushed")
	}
}

// replayEntry dispatches one outbox entry by kind.
func (s *Scheduler) replayEntry(ctx context.Context, e *outbox.Entry) error {
	switch e.Kind {
	case OutboxKindMovement:
		var queued QueuedMovement
		if err := e.UnmarshalPayload(&queued); err != nil {
			// Undecodable entries would retry forever; drop them as
			// permanently failed instead.
			return err
		}
		err := s.ledger.Replay(ctx, &queued)
		if err != nil && errors.Is(err, errors.ErrInsufficientStock) {
			// The world moved on while the entry was queued. Burning the
			// retry budget will not create stock; park it for an operator.
			s.logger.Warn().
				Str("entry_id", e.ID).
				Str("product_id", queued.Input.ProductID).
				Msg("queued movement no longer satisfiable")
			return err
		}
		return err
	default:
		s.logger.Error().Str("kind", e.Kind).Str("entry_id", e.ID).Msg("unknown outbox entry kind")
		return nil
	}
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	report, err := s.reconcile.Validate(ctx, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled reconciliation failed")
		return
	}
	if report.Healthy {
		return
	}
	if _, err := s.reconcile.AutoCorrect(ctx, ""); err != nil {
		s.logger.Error().Err(err).Msg("scheduled auto-correct failed")
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if _, err := s.batches.SweepExpired(ctx); err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	}
}
