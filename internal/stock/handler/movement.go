package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/internal/stock/service"
	"github.com/vintrack/vintrack-backend/pkg/httputil"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// MovementHandler handles ledger movement endpoints
type MovementHandler struct {
	ledger *service.LedgerService
	logger *logger.Logger
}

// NewMovementHandler creates a new movement handler
func NewMovementHandler(ledger *service.LedgerService, log *logger.Logger) *MovementHandler {
	return &MovementHandler{
		ledger: ledger,
		logger: log,
	}
}

type recordMovementRequest struct {
	ProductID     string          `json:"product_id" validate:"required,uuid"`
	BatchID       *string         `json:"batch_id,omitempty" validate:"omitempty,uuid"`
	Variant       string          `json:"variant" validate:"required,oneof=package unit"`
	Delta         int             `json:"delta" validate:"required"`
	MovementType  string          `json:"movement_type" validate:"required"`
	Reason        string          `json:"reason" validate:"required"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	AdminOverride bool            `json:"admin_override,omitempty"`
}

// Record records a stock movement. A committed movement returns 201 with
// both stock snapshots; a movement queued because the store was down
// returns 202 with the outbox entry ID.
func (h *MovementHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.ledger.Record(r.Context(), &service.RecordMovementInput{
		ProductID:     req.ProductID,
		BatchID:       req.BatchID,
		Variant:       repository.Variant(req.Variant),
		Delta:         req.Delta,
		MovementType:  req.MovementType,
		Reason:        req.Reason,
		Metadata:      req.Metadata,
		AdminOverride: req.AdminOverride,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if result.Status == service.MovementStatusQueued {
		httputil.Accepted(w, result)
		return
	}
	httputil.Created(w, result)
}

// History lists a product's movements, newest first
func (h *MovementHandler) History(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	page, perPage := pagination(r)

	movements, total, err := h.ledger.MovementHistory(r.Context(), productID, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages(total, perPage),
	})
}

func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

func totalPages(total int64, perPage int) int {
	if perPage == 0 {
		return 0
	}
	pages := int(total) / perPage
	if int(total)%perPage > 0 {
		pages++
	}
	return pages
}
