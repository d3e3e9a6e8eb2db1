package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/errors"
)

// Movement types
const (
	MovementInitialStock        = "initial_stock"
	MovementSale                = "sale"
	MovementReturn              = "return"
	MovementInventoryAdjustment = "inventory_adjustment"
	MovementTransferIn          = "stock_transfer_in"
	MovementTransferOut         = "stock_transfer_out"
	MovementPersonalConsumption = "personal_consumption"
)

var movementTypes = map[string]bool{
	MovementInitialStock:        true,
	MovementSale:                true,
	MovementReturn:              true,
	MovementInventoryAdjustment: true,
	MovementTransferIn:          true,
	MovementTransferOut:         true,
	MovementPersonalConsumption: true,
}

// IsValidMovementType reports whether t is a known movement type.
func IsValidMovementType(t string) bool {
	return movementTypes[t]
}

// StockMovement is one immutable entry in the append-only ledger. Rows are
// never updated or deleted; corrections are new offsetting movements.
type StockMovement struct {
	ID            string          `db:"id" json:"id"`
	ProductID     string          `db:"product_id" json:"product_id"`
	BatchID       *string         `db:"batch_id" json:"batch_id,omitempty"`
	Variant       Variant         `db:"variant" json:"variant"`
	Delta         int             `db:"delta" json:"delta"`
	MovementType  string          `db:"movement_type" json:"movement_type"`
	Reason        string          `db:"reason" json:"reason"`
	Metadata      json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	ActorID       string          `db:"actor_id" json:"actor_id"`
	PreviousStock int             `db:"previous_stock" json:"previous_stock"`
	NewStock      int             `db:"new_stock" json:"new_stock"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// ReplayedStock holds the per-variant sums of all movement deltas for a
// product, i.e. the stock the counters should show.
type ReplayedStock struct {
	ProductID  string `db:"product_id"`
	Packages   int    `db:"packages"`
	UnitsLoose int    `db:"units_loose"`
}

// MovementRepository handles the append-only movement ledger
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Insert appends one movement. This is the only write this repository
// exposes for the ledger table.
func (r *MovementRepository) Insert(ctx context.Context, q sqlx.QueryerContext, m *StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (
			id, product_id, batch_id, variant, delta, movement_type,
			reason, metadata, actor_id, previous_stock, new_stock
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	err := q.QueryRowxContext(ctx, query,
		m.ID, m.ProductID, m.BatchID, m.Variant, m.Delta, m.MovementType,
		m.Reason, m.Metadata, m.ActorID, m.PreviousStock, m.NewStock,
	).Scan(&m.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// ListByProduct lists movements for a product, newest first, with pagination
func (r *MovementRepository) ListByProduct(ctx context.Context, productID string, page, perPage int) ([]*StockMovement, int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_movements WHERE product_id = $1`, productID); err != nil {
		return nil, 0, err
	}

	var movements []*StockMovement
	query := `
		SELECT * FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &movements, query, productID, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// Replay recomputes a product's stock by summing all movement deltas per
// variant in the ledger. This is the ground truth the counters are checked
// against.
func (r *MovementRepository) Replay(ctx context.Context, productID string) (*ReplayedStock, error) {
	replayed := &ReplayedStock{ProductID: productID}
	query := `
		SELECT
			COALESCE(SUM(delta) FILTER (WHERE variant = 'package'), 0) AS packages,
			COALESCE(SUM(delta) FILTER (WHERE variant = 'unit'), 0) AS units_loose
		FROM stock_movements
		WHERE product_id = $1
	`
	row := r.db.QueryRowxContext(ctx, query, productID)
	if err := row.Scan(&replayed.Packages, &replayed.UnitsLoose); err != nil {
		return nil, err
	}
	return replayed, nil
}

// ReplayAll recomputes stock for every product that has movements
func (r *MovementRepository) ReplayAll(ctx context.Context) ([]*ReplayedStock, error) {
	var replayed []*ReplayedStock
	query := `
		SELECT
			product_id,
			COALESCE(SUM(delta) FILTER (WHERE variant = 'package'), 0) AS packages,
			COALESCE(SUM(delta) FILTER (WHERE variant = 'unit'), 0) AS units_loose
		FROM stock_movements
		GROUP BY product_id
		ORDER BY product_id
	`
	if err := r.db.SelectContext(ctx, &replayed, query); err != nil {
		return nil, err
	}
	return replayed, nil
}

// ListOrphans finds movements whose product no longer exists. These should
// never occur but reconciliation must detect them rather than assume so.
func (r *MovementRepository) ListOrphans(ctx context.Context) ([]*StockMovement, error) {
	var movements []*StockMovement
	query := `
		SELECT m.* FROM stock_movements m
		LEFT JOIN products p ON p.id = m.product_id
		WHERE p.id IS NULL
		ORDER BY m.created_at
	`
	if err := r.db.SelectContext(ctx, &movements, query); err != nil {
		return nil, err
	}
	return movements, nil
}

// GetByID gets a movement by ID
func (r *MovementRepository) GetByID(ctx context.Context, id string) (*StockMovement, error) {
	var m StockMovement
	query := `SELECT * FROM stock_movements WHERE id = $1`
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("movement")
		}
		return nil, err
	}
	return &m, nil
}
