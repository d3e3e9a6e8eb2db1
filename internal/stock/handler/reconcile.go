package handler

import (
	"net/http"

	"github.com/vintrack/vintrack-backend/internal/stock/service"
	"github.com/vintrack/vintrack-backend/pkg/httputil"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// ReconcileHandler handles ledger reconciliation endpoints
type ReconcileHandler struct {
	reconcile *service.ReconcileService
	logger    *logger.Logger
}

// NewReconcileHandler creates a new reconcile handler
func NewReconcileHandler(reconcile *service.ReconcileService, log *logger.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		reconcile: reconcile,
		logger:    log,
	}
}

// Validate replays the ledger and reports drift without changing anything.
// An optional product_id query parameter scopes the check to one product.
func (h *ReconcileHandler) Validate(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.Validate(r.Context(), r.URL.Query().Get("product_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// AutoCorrect overwrites drifted counters with their replayed values.
// An optional product_id query parameter scopes the pass to one product.
func (h *ReconcileHandler) AutoCorrect(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.AutoCorrect(r.Context(), r.URL.Query().Get("product_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}
