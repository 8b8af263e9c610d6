package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/platform/httpx"
	"github.com/y3dhub/api/internal/services"
)

// PrintTaskHandlers exposes the stored print queue.
type PrintTaskHandlers struct {
	tasks services.PrintTaskService
}

// NewPrintTaskHandlers constructs the print queue handlers.
func NewPrintTaskHandlers(tasks services.PrintTaskService) *PrintTaskHandlers {
	return &PrintTaskHandlers{tasks: tasks}
}

// Routes registers the print queue endpoints.
func (h *PrintTaskHandlers) Routes(r chi.Router) {
	r.Get("/print-tasks", h.list)
	r.Get("/orders/{orderID}/print-tasks", h.listByOrder)
}

type printTaskPayload struct {
	ID           string   `json:"id"`
	OrderID      string   `json:"orderId"`
	OrderItemID  string   `json:"orderItemId"`
	TaskIndex    int      `json:"taskIndex"`
	CustomText   *string  `json:"customText"`
	Color1       *string  `json:"color1"`
	Color2       *string  `json:"color2"`
	Quantity     int      `json:"quantity"`
	NeedsReview  bool     `json:"needsReview"`
	ReviewReason *string  `json:"reviewReason,omitempty"`
	Annotation   *string  `json:"annotation,omitempty"`
	SKU          string   `json:"sku"`
	ProductName  string   `json:"productName"`
	OrderNumber  string   `json:"orderNumber"`
	ShipByDate   string   `json:"shipByDate,omitempty"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

func (h *PrintTaskHandlers) list(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.tasks == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", "print queue unavailable", http.StatusServiceUnavailable))
		return
	}

	query := services.PrintTaskListQuery{}
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status, ok := domain.ParsePrintTaskStatus(raw)
		if !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "unknown status "+raw, http.StatusBadRequest))
			return
		}
		query.Status = append(query.Status, status)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid limit", http.StatusBadRequest))
			return
		}
		query.Limit = limit
	}

	tasks, err := h.tasks.List(r.Context(), query)
	if err != nil {
		writePrintTaskError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"printTasks": buildPrintTaskPayloads(tasks)})
}

func (h *PrintTaskHandlers) listByOrder(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.tasks == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", "print queue unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	tasks, err := h.tasks.ListByOrder(r.Context(), orderID)
	if err != nil {
		writePrintTaskError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"printTasks": buildPrintTaskPayloads(tasks)})
}

func writePrintTaskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrPrintTaskInvalidInput):
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPrintTaskNotFound):
		httpx.WriteError(r.Context(), w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("internal_error", "print queue lookup failed", http.StatusInternalServerError))
	}
}

func buildPrintTaskPayloads(tasks []domain.PrintTask) []printTaskPayload {
	out := make([]printTaskPayload, 0, len(tasks))
	for _, task := range tasks {
		payload := printTaskPayload{
			ID:           task.ID,
			OrderID:      task.OrderID,
			OrderItemID:  task.OrderItemID,
			TaskIndex:    task.TaskIndex,
			CustomText:   task.CustomText,
			Color1:       task.Color1,
			Color2:       task.Color2,
			Quantity:     task.Quantity,
			NeedsReview:  task.NeedsReview,
			ReviewReason: task.ReviewReason,
			Annotation:   task.Annotation,
			SKU:          task.SKU,
			ProductName:  task.ProductName,
			OrderNumber:  task.OrderNumber,
			Status:       string(task.Status),
			CreatedAt:    formatTime(task.CreatedAt),
			UpdatedAt:    formatTime(task.UpdatedAt),
		}
		if task.ShipByDate != nil {
			payload.ShipByDate = formatTime(*task.ShipByDate)
		}
		out = append(out, payload)
	}
	return out
}
