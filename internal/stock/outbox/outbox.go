// Package outbox implements the durable retry queue for stock movements
// that could not be committed because the backing store was unavailable.
// Entries are held in a bounded, priority-ordered store and replayed by a
// periodic flush until they commit or exhaust their retry budget.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
)

// ErrQueueFull is returned when the outbox is at capacity and every queued
// entry outranks the one being added. The rejected entry is written to the
// backup file before this is returned.
var ErrQueueFull = errors.New("outbox at capacity with higher-priority entries")

// Priority orders entries within the outbox. Higher priorities are flushed
// first and are never evicted to make room for lower ones.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorities lists all priorities from highest to lowest.
var priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Entry is one queued operation awaiting replay.
type Entry struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Priority   Priority        `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// UnmarshalPayload decodes the entry payload into v.
func (e *Entry) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Store is the durable backing for outbox entries. Each priority maps to a
// FIFO list; Pop returns nil when the list for that priority is empty.
type Store interface {
	Push(ctx context.Context, e *Entry) error
	Pop(ctx context.Context, p Priority) (*Entry, error)
	Len(ctx context.Context, p Priority) (int64, error)
	Fail(ctx context.Context, e *Entry) error
}

// Handler replays a single entry. A nil return removes the entry from the
// queue; an error re-queues it until the retry budget runs out.
type Handler func(ctx context.Context, e *Entry) error

// Outbox is the bounded retry queue.
type Outbox struct {
	store      Store
	logger     *logger.Logger
	metrics    *metrics.Metrics
	maxSize    int
	maxRetries int
	backupPath string
	flushing   atomic.Bool
}

// Config holds outbox tuning parameters.
type Config struct {
	MaxSize    int
	MaxRetries int
	BackupPath string
}

// New creates an outbox over the given store.
func New(store Store, cfg Config, log *logger.Logger, m *metrics.Metrics) *Outbox {
	return &Outbox{
		store:      store,
		logger:     log,
		metrics:    m,
		maxSize:    cfg.MaxSize,
		maxRetries: cfg.MaxRetries,
		backupPath: cfg.BackupPath,
	}
}

// Enqueue adds an entry to the outbox. When the queue is at capacity the
// oldest entry of the lowest populated priority is evicted first, but only
// from priorities at or below the incoming entry's, so a critical entry can
// displace a low one but never the other way around. When everything queued
// outranks the incoming entry it is backed up and rejected with
// ErrQueueFull.
func (o *Outbox) Enqueue(ctx context.Context, kind string, priority Priority, payload interface{}) (*Entry, error) {
	if !priority.IsValid() {
		priority = PriorityMedium
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		Kind:       kind,
		Priority:   priority,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}

	depth, err := o.depth(ctx)
	if err != nil {
		return nil, err
	}
	if depth >= int64(o.maxSize) {
		evicted, err := o.evictFor(ctx, priority)
		if err != nil {
			return nil, err
		}
		if evicted == nil {
			o.logger.Warn().
				Str("entry_id", entry.ID).
				Str("priority", string(priority)).
				Msg("outbox at capacity with higher-priority entries, rejecting")
			if err := o.backup(entry, "rejected"); err != nil {
				o.logger.Error().Err(err).Msg("failed to back up rejected outbox entry")
			}
			return nil, ErrQueueFull
		}
		o.metrics.OutboxEvictions.Inc()
		o.logger.Warn().
			Str("evicted_id", evicted.ID).
			Str("evicted_priority", string(evicted.Priority)).
			Str("incoming_priority", string(priority)).
			Msg("outbox at capacity, evicted oldest low-priority entry")
		if err := o.backup(evicted, "evicted"); err != nil {
			o.logger.Error().Err(err).Msg("failed to back up evicted outbox entry")
		}
	}

	if err := o.store.Push(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to push outbox entry: %w", err)
	}

	o.updateDepthGauge(ctx)
	return entry, nil
}

// Flush drains up to batchSize entries in priority order, replaying each
// through the handler. Overlapping flushes are skipped rather than queued;
// flushed reports how many entries were removed from the queue.
func (o *Outbox) Flush(ctx context.Context, batchSize int, handler Handler) (flushed int, err error) {
	if !o.flushing.CompareAndSwap(false, true) {
		o.logger.Debug().Msg("outbox flush already running, skipping")
		return 0, nil
	}
	defer o.flushing.Store(false)

	for _, p := range priorities {
		for flushed < batchSize {
			if ctx.Err() != nil {
				return flushed, ctx.Err()
			}

			entry, popErr := o.store.Pop(ctx, p)
			if popErr != nil {
				return flushed, popErr
			}
			if entry == nil {
				break
			}

			if handlerErr := handler(ctx, entry); handlerErr != nil {
				entry.Attempts++
				entry.LastError = handlerErr.Error()

				if entry.Attempts >= o.maxRetries {
					o.metrics.OutboxFlushed.WithLabelValues("failed").Inc()
					o.logger.Error().
						Err(handlerErr).
						Str("entry_id", entry.ID).
						Int("attempts", entry.Attempts).
						Msg("outbox entry exhausted retry budget")
					if failErr := o.store.Fail(ctx, entry); failErr != nil {
						o.logger.Error().Err(failErr).Str("entry_id", entry.ID).Msg("failed to park outbox entry")
					}
					if bkErr := o.backup(entry, "failed"); bkErr != nil {
						o.logger.Error().Err(bkErr).Str("entry_id", entry.ID).Msg("failed to back up outbox entry")
					}
					flushed++
					continue
				}

				o.metrics.OutboxFlushed.WithLabelValues("retry").Inc()
				if pushErr := o.store.Push(ctx, entry); pushErr != nil {
					return flushed, pushErr
				}
				// Handler failures usually mean the store is still down,
				// so stop the pass instead of burning the whole budget.
				o.updateDepthGauge(ctx)
				return flushed, nil
			}

			o.metrics.OutboxFlushed.WithLabelValues("ok").Inc()
			flushed++
		}
	}

	o.updateDepthGauge(ctx)
	return flushed, nil
}

// Depth returns the number of entries currently queued.
func (o *Outbox) Depth(ctx context.Context) (int64, error) {
	return o.depth(ctx)
}

func (o *Outbox) depth(ctx context.Context) (int64, error) {
	var total int64
	for _, p := range priorities {
		n, err := o.store.Len(ctx, p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (o *Outbox) updateDepthGauge(ctx context.Context) {
	if depth, err := o.depth(ctx); err == nil {
		o.metrics.OutboxDepth.Set(float64(depth))
	}
}

// evictFor removes the oldest entry of the lowest populated priority at or
// below incoming. Entries that outrank the incoming one are never popped;
// nil means nothing below that rank is queued.
func (o *Outbox) evictFor(ctx context.Context, incoming Priority) (*Entry, error) {
	floor := 0
	for i, p := range priorities {
		if p == incoming {
			floor = i
			break
		}
	}

	for i := len(priorities) - 1; i >= floor; i-- {
		entry, err := o.store.Pop(ctx, priorities[i])
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

// backup appends an entry to the JSON-lines backup file so that nothing is
// silently lost even when the queue gives up on it.
func (o *Outbox) backup(entry *Entry, reason string) error {
	if o.backupPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(o.backupPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(o.backupPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	record := struct {
		*Entry
		Reason   string    `json:"reason"`
		BackedUp time.Time `json:"backed_up_at"`
	}{Entry: entry, Reason: reason, BackedUp: time.Now().UTC()}

	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}
