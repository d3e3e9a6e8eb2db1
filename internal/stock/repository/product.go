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

// Variant identifies which physical stock counter an operation touches.
// Packages and loose units are independent sellable variants; they are
// never summed or converted into each other.
type Variant string

const (
	VariantPackage Variant = "package"
	VariantUnit    Variant = "unit"
)

// IsValid reports whether the variant is one of the known values.
func (v Variant) IsValid() bool {
	return v == VariantPackage || v == VariantUnit
}

// Product represents a sellable product with two independent stock counters
type Product struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Category         string          `db:"category" json:"category"`
	StockPackages    int             `db:"stock_packages" json:"stock_packages"`
	StockUnitsLoose  int             `db:"stock_units_loose" json:"stock_units_loose"`
	UnitsPerPackage  *int            `db:"units_per_package" json:"units_per_package,omitempty"`
	PricePackage     decimal.Decimal `db:"price_package" json:"price_package"`
	PriceUnit        decimal.Decimal `db:"price_unit" json:"price_unit"`
	MinStockPackages *int            `db:"min_stock_packages" json:"min_stock_packages,omitempty"`
	MinStockUnits    *int            `db:"min_stock_units" json:"min_stock_units,omitempty"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// CounterFor returns the materialized counter for the given variant.
func (p *Product) CounterFor(v Variant) int {
	if v == VariantPackage {
		return p.StockPackages
	}
	return p.StockUnitsLoose
}

// MinStockFor returns the configured minimum for the given variant, or nil
// when no threshold is set.
func (p *Product) MinStockFor(v Variant) *int {
	if v == VariantPackage {
		return p.MinStockPackages
	}
	return p.MinStockUnits
}

// PriceFor returns the price of the given variant.
func (p *Product) PriceFor(v Variant) decimal.Decimal {
	if v == VariantPackage {
		return p.PricePackage
	}
	return p.PriceUnit
}

// ProductRepository handles product persistence
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create creates a new product
func (r *ProductRepository) Create(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	query := `
		INSERT INTO products (
			id, name, category, stock_packages, stock_units_loose, units_per_package,
			price_package, price_unit, min_stock_packages, min_stock_units, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		p.ID, p.Name, p.Category, p.StockPackages, p.StockUnitsLoose, p.UnitsPerPackage,
		p.PricePackage, p.PriceUnit, p.MinStockPackages, p.MinStockUnits, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var p Product
	query := `SELECT * FROM products WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ProductNotFound(id)
		}
		return nil, err
	}
	return &p, nil
}

// GetByIDForUpdate locks the product row for the duration of the transaction.
// Concurrent writers on the same product serialize here.
func (r *ProductRepository) GetByIDForUpdate(ctx context.Context, q sqlx.QueryerContext, id string) (*Product, error) {
	var p Product
	query := `SELECT * FROM products WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, q, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ProductNotFound(id)
		}
		return nil, err
	}
	return &p, nil
}

// List lists products with pagination
func (r *ProductRepository) List(ctx context.Context, page, perPage int) ([]*Product, int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM products WHERE is_active = true`); err != nil {
		return nil, 0, err
	}

	var products []*Product
	query := `
		SELECT * FROM products
		WHERE is_active = true
		ORDER BY name
		LIMIT $1 OFFSET $2
	`
	if err := r.db.SelectContext(ctx, &products, query, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// GetAllActive gets all active products
func (r *ProductRepository) GetAllActive(ctx context.Context) ([]*Product, error) {
	var products []*Product
	query := `SELECT * FROM products WHERE is_active = true ORDER BY name`
	if err := r.db.SelectContext(ctx, &products, query); err != nil {
		return nil, err
	}
	return products, nil
}

// SetCounter updates a single variant counter within a transaction.
// Only the ledger and the allocator go through here; auto-correction uses
// OverwriteCounters.
func (r *ProductRepository) SetCounter(ctx context.Context, q sqlx.ExecerContext, productID string, variant Variant, value int) error {
	column := "stock_units_loose"
	if variant == VariantPackage {
		column = "stock_packages"
	}

	query := `UPDATE products SET ` + column + ` = $2, updated_at = NOW() WHERE id = $1`
	result, err := q.ExecContext(ctx, query, productID, value)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.ProductNotFound(productID)
	}
	return nil
}

// OverwriteCounters replaces both materialized counters with values
// recomputed from the ledger. Reconciliation auto-correct is the only
// caller; every other counter mutation goes through the ledger.
func (r *ProductRepository) OverwriteCounters(ctx context.Context, productID string, packages, unitsLoose int) error {
	query := `
		UPDATE products SET stock_packages = $2, stock_units_loose = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, productID, packages, unitsLoose)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.ProductNotFound(productID)
	}
	return nil
}
