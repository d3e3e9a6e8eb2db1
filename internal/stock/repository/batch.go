package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/errors"
)

// Batch statuses
const (
	BatchStatusActive   = "active"
	BatchStatusDepleted = "depleted"
	BatchStatusExpired  = "expired"
	BatchStatusRecalled = "recalled"
)

// StockBatch represents a physically received lot of a product. Remaining
// quantity is decremented only through the allocator.
type StockBatch struct {
	ID               string    `db:"id" json:"id"`
	ProductID        string    `db:"product_id" json:"product_id"`
	Code             string    `db:"code" json:"code"`
	ManufacturedDate time.Time `db:"manufactured_date" json:"manufactured_date"`
	ExpiryDate       time.Time `db:"expiry_date" json:"expiry_date"`
	QtyTotal         int       `db:"qty_total" json:"qty_total"`
	QtyRemaining     int       `db:"qty_remaining" json:"qty_remaining"`
	Status           string    `db:"status" json:"status"`
	ReceivedSeq      int64     `db:"received_seq" json:"received_seq"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// DaysUntilExpiry computes whole days between now and the expiry date.
// Negative for already-expired batches.
func (b *StockBatch) DaysUntilExpiry(now time.Time) int {
	return int(b.ExpiryDate.Sub(now).Hours() / 24)
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch. received_seq is assigned by the database and
// breaks FEFO ties between batches sharing an expiry date.
func (r *BatchRepository) Create(ctx context.Context, q sqlx.QueryerContext, b *StockBatch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = BatchStatusActive
	}

	query := `
		INSERT INTO stock_batches (
			id, product_id, code, manufactured_date, expiry_date,
			qty_total, qty_remaining, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING received_seq, created_at, updated_at
	`

	err := q.QueryRowxContext(ctx, query,
		b.ID, b.ProductID, b.Code, b.ManufacturedDate, b.ExpiryDate,
		b.QtyTotal, b.QtyRemaining, b.Status,
	).Scan(&b.ReceivedSeq, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*StockBatch, error) {
	var b StockBatch
	query := `SELECT * FROM stock_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &b, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &b, nil
}

// GetByIDForUpdate loads a batch and locks its row for the transaction
func (r *BatchRepository) GetByIDForUpdate(ctx context.Context, q sqlx.QueryerContext, id string) (*StockBatch, error) {
	var b StockBatch
	query := `SELECT * FROM stock_batches WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, q, &b, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &b, nil
}

// ListByProduct lists batches for a product in FEFO order
func (r *BatchRepository) ListByProduct(ctx context.Context, productID string) ([]*StockBatch, error) {
	var batches []*StockBatch
	query := `
		SELECT * FROM stock_batches
		WHERE product_id = $1
		ORDER BY expiry_date, received_seq
	`
	if err := r.db.SelectContext(ctx, &batches, query, productID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListAllocatable returns the FEFO candidate list for an allocation and
// locks the rows for the duration of the transaction: active batches with
// remaining stock, nearest expiry first, receipt order breaking ties.
// A non-nil maxExpiry hard-excludes batches expiring after it.
func (r *BatchRepository) ListAllocatable(ctx context.Context, q sqlx.QueryerContext, productID string, maxExpiry *time.Time) ([]*StockBatch, error) {
	var batches []*StockBatch

	if maxExpiry != nil {
		query := `
			SELECT * FROM stock_batches
			WHERE product_id = $1 AND status = 'active' AND qty_remaining > 0
			AND expiry_date <= $2
			ORDER BY expiry_date, received_seq
			FOR UPDATE
		`
		if err := sqlx.SelectContext(ctx, q, &batches, query, productID, *maxExpiry); err != nil {
			return nil, err
		}
		return batches, nil
	}

	query := `
		SELECT * FROM stock_batches
		WHERE product_id = $1 AND status = 'active' AND qty_remaining > 0
		ORDER BY expiry_date, received_seq
		FOR UPDATE
	`
	if err := sqlx.SelectContext(ctx, q, &batches, query, productID); err != nil {
		return nil, err
	}
	return batches, nil
}

// DecrementRemaining takes units from a batch, guarded by the remaining
// quantity the caller read. Returns false without modifying anything when
// another writer got there first; the caller retries the whole allocation.
// A batch reaching zero flips to depleted in the same statement.
func (r *BatchRepository) DecrementRemaining(ctx context.Context, q sqlx.ExecerContext, batchID string, expectedRemaining, take int) (bool, error) {
	query := `
		UPDATE stock_batches SET
			qty_remaining = qty_remaining - $3,
			status = CASE WHEN qty_remaining - $3 = 0 THEN 'depleted' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND qty_remaining = $2 AND status = 'active'
	`
	result, err := q.ExecContext(ctx, query, batchID, expectedRemaining, take)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return false, appErr
		}
		return false, err
	}

	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// SetStatus updates a batch's status
func (r *BatchRepository) SetStatus(ctx context.Context, batchID, status string) error {
	query := `UPDATE stock_batches SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, batchID, status)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}
	return nil
}

// MarkRecalled zeroes a batch's remaining stock and flags it recalled.
// Callers must hold the row lock and write the offsetting ledger movement
// in the same transaction.
func (r *BatchRepository) MarkRecalled(ctx context.Context, q sqlx.ExecerContext, batchID string) error {
	query := `
		UPDATE stock_batches SET qty_remaining = 0, status = 'recalled', updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query, batchID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}
	return nil
}

// ExpiringBatch is a batch joined with the product fields the alert engine
// needs, so one query covers a whole scan.
type ExpiringBatch struct {
	StockBatch
	ProductName string          `db:"product_name" json:"product_name"`
	PriceUnit   decimal.Decimal `db:"price_unit" json:"price_unit"`
}

// GetExpiring gets active batches with remaining stock expiring within the
// horizon, nearest expiry first. Already-expired batches are included so
// the alert engine can flag them.
func (r *BatchRepository) GetExpiring(ctx context.Context, withinDays int) ([]*ExpiringBatch, error) {
	var batches []*ExpiringBatch
	query := `
		SELECT b.*, p.name AS product_name, p.price_unit
		FROM stock_batches b
		JOIN products p ON p.id = b.product_id
		WHERE b.status IN ('active', 'expired') AND b.qty_remaining > 0
		AND b.expiry_date <= NOW() + INTERVAL '1 day' * $1
		ORDER BY b.expiry_date, b.received_seq
	`
	if err := r.db.SelectContext(ctx, &batches, query, withinDays); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetAllActive gets all active batches
func (r *BatchRepository) GetAllActive(ctx context.Context) ([]*StockBatch, error) {
	var batches []*StockBatch
	query := `SELECT * FROM stock_batches WHERE status = 'active' ORDER BY expiry_date, received_seq`
	if err := r.db.SelectContext(ctx, &batches, query); err != nil {
		return nil, err
	}
	return batches, nil
}

// TotalRemaining sums remaining quantity across a product's active batches
func (r *BatchRepository) TotalRemaining(ctx context.Context, productID string) (int, error) {
	var total sql.NullInt64
	query := `SELECT SUM(qty_remaining) FROM stock_batches WHERE product_id = $1 AND status = 'active'`
	if err := r.db.GetContext(ctx, &total, query, productID); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// SweepExpired marks active batches past their expiry date as expired.
// Non-destructive: remaining quantity is kept, only the status changes so
// the allocator stops considering the batch.
func (r *BatchRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE stock_batches SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expiry_date < NOW()
	`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
