package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/vintrack/vintrack-backend/internal/stock/service"
	"github.com/vintrack/vintrack-backend/pkg/httputil"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// ProductHandler handles product catalog endpoints
type ProductHandler struct {
	products *service.ProductService
	ledger   *service.LedgerService
	logger   *logger.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(products *service.ProductService, ledger *service.LedgerService, log *logger.Logger) *ProductHandler {
	return &ProductHandler{
		products: products,
		ledger:   ledger,
		logger:   log,
	}
}

type createProductRequest struct {
	Name             string          `json:"name" validate:"required"`
	Category         string          `json:"category"`
	UnitsPerPackage  *int            `json:"units_per_package,omitempty" validate:"omitempty,gt=0"`
	PricePackage     decimal.Decimal `json:"price_package"`
	PriceUnit        decimal.Decimal `json:"price_unit"`
	MinStockPackages *int            `json:"min_stock_packages,omitempty" validate:"omitempty,gte=0"`
	MinStockUnits    *int            `json:"min_stock_units,omitempty" validate:"omitempty,gte=0"`
	InitialPackages  int             `json:"initial_packages" validate:"gte=0"`
	InitialUnits     int             `json:"initial_units" validate:"gte=0"`
}

// Create registers a new product
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	product, err := h.products.Create(r.Context(), &service.CreateProductInput{
		Name:             req.Name,
		Category:         req.Category,
		UnitsPerPackage:  req.UnitsPerPackage,
		PricePackage:     req.PricePackage,
		PriceUnit:        req.PriceUnit,
		MinStockPackages: req.MinStockPackages,
		MinStockUnits:    req.MinStockUnits,
		InitialPackages:  req.InitialPackages,
		InitialUnits:     req.InitialUnits,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, product)
}

// Get returns a product with its batches in FEFO order
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, batches, err := h.ledger.CurrentStock(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"product": product,
		"batches": batches,
	})
}

// List returns a page of products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	products, total, err := h.products.List(r.Context(), page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, products, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages(total, perPage),
	})
}
