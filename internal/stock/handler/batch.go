package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vintrack/vintrack-backend/internal/stock/service"
	"github.com/vintrack/vintrack-backend/pkg/errors"
	"github.com/vintrack/vintrack-backend/pkg/httputil"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// BatchHandler handles batch lifecycle endpoints
type BatchHandler struct {
	batches *service.BatchService
	logger  *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batches *service.BatchService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		batches: batches,
		logger:  log,
	}
}

type receiveBatchRequest struct {
	Code             string `json:"code" validate:"required"`
	ManufacturedDate string `json:"manufactured_date" validate:"required"`
	ExpiryDate       string `json:"expiry_date" validate:"required"`
	Quantity         int    `json:"quantity" validate:"required,gt=0"`
}

type recallBatchRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Receive records a new batch entering stock
func (h *BatchHandler) Receive(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	var req receiveBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	manufactured, err := time.Parse("2006-01-02", req.ManufacturedDate)
	if err != nil {
		httputil.Error(w, errors.BadRequest("manufactured_date must be YYYY-MM-DD"))
		return
	}
	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		httputil.Error(w, errors.BadRequest("expiry_date must be YYYY-MM-DD"))
		return
	}

	batch, err := h.batches.Receive(r.Context(), &service.ReceiveBatchInput{
		ProductID:        productID,
		Code:             req.Code,
		ManufacturedDate: manufactured,
		ExpiryDate:       expiry,
		Quantity:         req.Quantity,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// Recall pulls a batch out of circulation
func (h *BatchHandler) Recall(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	var req recallBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.batches.Recall(r.Context(), &service.RecallBatchInput{
		BatchID: batchID,
		Reason:  req.Reason,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// ListByProduct lists a product's batches in FEFO order
func (h *BatchHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	batches, err := h.batches.ListByProduct(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}
