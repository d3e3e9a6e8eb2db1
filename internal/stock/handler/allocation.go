package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vintrack/vintrack-backend/internal/stock/service"
	"github.com/vintrack/vintrack-backend/pkg/httputil"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// AllocationHandler handles FEFO sale allocation endpoints
type AllocationHandler struct {
	allocator *service.AllocatorService
	logger    *logger.Logger
}

// NewAllocationHandler creates a new allocation handler
func NewAllocationHandler(allocator *service.AllocatorService, log *logger.Logger) *AllocationHandler {
	return &AllocationHandler{
		allocator: allocator,
		logger:    log,
	}
}

type allocateRequest struct {
	Quantity           int    `json:"quantity" validate:"required,gt=0"`
	AllowPartial       bool   `json:"allow_partial"`
	MaxDaysUntilExpiry *int   `json:"max_days_until_expiry,omitempty" validate:"omitempty,gte=0"`
	Reason             string `json:"reason"`
}

// Allocate fills a sale for a product from its batches in FEFO order
func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	var req allocateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocator.AllocateSale(r.Context(), &service.AllocateSaleInput{
		ProductID:          productID,
		Quantity:           req.Quantity,
		AllowPartial:       req.AllowPartial,
		MaxDaysUntilExpiry: req.MaxDaysUntilExpiry,
		Reason:             req.Reason,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
