package service

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/errors"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// CreateProductInput describes a new product. Initial stock goes through
// the ledger as initial_stock movements so replay always matches.
type CreateProductInput struct {
	Name             string
	Category         string
	UnitsPerPackage  *int
	PricePackage     decimal.Decimal
	PriceUnit        decimal.Decimal
	MinStockPackages *int
	MinStockUnits    *int
	InitialPackages  int
	InitialUnits     int
}

// ProductService manages the product catalog.
type ProductService struct {
	db       *database.DB
	products *repository.ProductRepository
	ledger   *LedgerService
	logger   *logger.Logger
}

// NewProductService creates a new product service
func NewProductService(db *database.DB, products *repository.ProductRepository, ledger *LedgerService, log *logger.Logger) *ProductService {
	return &ProductService{
		db:       db,
		products: products,
		ledger:   ledger,
		logger:   log.WithComponent("product"),
	}
}

// Create registers a product. Counters start at zero; any initial stock is
// recorded as initial_stock ledger movements, never written directly, so
// the ledger can always be replayed into the counters.
func (s *ProductService) Create(ctx context.Context, input *CreateProductInput) (*repository.Product, error) {
	if input.Name == "" {
		return nil, errors.BadRequest("product name is required")
	}
	if input.InitialPackages < 0 || input.InitialUnits < 0 {
		return nil, errors.BadRequest("initial stock must not be negative")
	}

	product := &repository.Product{
		Name:             input.Name,
		Category:         input.Category,
		UnitsPerPackage:  input.UnitsPerPackage,
		PricePackage:     input.PricePackage,
		PriceUnit:        input.PriceUnit,
		MinStockPackages: input.MinStockPackages,
		MinStockUnits:    input.MinStockUnits,
		IsActive:         true,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}

	seed := []struct {
		variant repository.Variant
		qty     int
	}{
		{repository.VariantPackage, input.InitialPackages},
		{repository.VariantUnit, input.InitialUnits},
	}
	for _, m := range seed {
		if m.qty == 0 {
			continue
		}
		if _, err := s.ledger.Record(ctx, &RecordMovementInput{
			ProductID:    product.ID,
			Variant:      m.variant,
			Delta:        m.qty,
			MovementType: repository.MovementInitialStock,
			Reason:       "initial stock",
		}); err != nil {
			return nil, err
		}
	}

	// Re-read so the returned product reflects the seeded counters.
	created, err := s.products.GetByID(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("product_id", created.ID).
		Str("name", created.Name).
		Msg("product created")
	return created, nil
}

// Get returns a product by ID.
func (s *ProductService) Get(ctx context.Context, id string) (*repository.Product, error) {
	return s.products.GetByID(ctx, id)
}

// List returns a page of products.
func (s *ProductService) List(ctx context.Context, page, perPage int) ([]*repository.Product, int64, error) {
	return s.products.List(ctx, page, perPage)
}
