package handler

import (
	"net/http"
	"strconv"

	"github.com/vintrack/vintrack-backend/internal/stock/service"
	"github.com/vintrack/vintrack-backend/pkg/httputil"
	"github.com/vintrack/vintrack-backend/pkg/logger"
)

// AlertHandler handles alert and dashboard endpoints
type AlertHandler struct {
	alerts *service.AlertService
	logger *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *service.AlertService, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		logger: log,
	}
}

// Expiry lists batches expiring within the horizon, most urgent first.
// An optional horizon_days query parameter overrides the default.
func (h *AlertHandler) Expiry(w http.ResponseWriter, r *http.Request) {
	horizonDays, _ := strconv.Atoi(r.URL.Query().Get("horizon_days"))

	alerts, err := h.alerts.ExpiryAlerts(r.Context(), horizonDays)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// LowStock lists counters at or below their configured minimums
func (h *AlertHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.LowStockAlerts(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// Dashboard returns the aggregated stock position
func (h *AlertHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Dashboard(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}
