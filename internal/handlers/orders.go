package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/y3dhub/api/internal/platform/httpx"
	"github.com/y3dhub/api/internal/services"
)

// OrderHandlers exposes order reconciliation.
type OrderHandlers struct {
	reconciles services.ReconcileService
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(reconciles services.ReconcileService) *OrderHandlers {
	return &OrderHandlers{reconciles: reconciles}
}

// Routes registers the order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Post("/orders/{orderID}:reconcile", h.reconcile)
}

type reconcileResponse struct {
	OrderID     string   `json:"orderId"`
	OrderNumber string   `json:"orderNumber"`
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Unchanged   int      `json:"unchanged"`
	Warnings    []string `json:"warnings"`
	DryRun      bool     `json:"dryRun"`
	CompletedAt string   `json:"completedAt"`
}

func (h *OrderHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciles == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", "reconciler unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	dryRun := isTruthy(r.URL.Query().Get("dry_run"))

	result, err := h.reconciles.Reconcile(r.Context(), services.ReconcileCommand{
		OrderRef: orderID,
		DryRun:   dryRun,
	})
	if err != nil {
		writeReconcileError(w, r, err)
		return
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSONResponse(w, http.StatusOK, reconcileResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Created:     result.Created,
		Updated:     result.Updated,
		Unchanged:   result.Unchanged,
		Warnings:    warnings,
		DryRun:      result.DryRun,
		CompletedAt: formatTime(result.CompletedAt),
	})
}

func writeReconcileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrReconcileInvalidInput):
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReconcileNotFound):
		httpx.WriteError(r.Context(), w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrReconcileExtraction):
		httpx.WriteError(r.Context(), w, httpx.NewError("extraction_failed", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("internal_error", "reconciliation failed", http.StatusInternalServerError))
	}
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
