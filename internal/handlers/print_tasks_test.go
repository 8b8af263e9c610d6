package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/services"
)

type stubPrintTaskService struct {
	tasks     []domain.PrintTask
	err       error
	lastQuery services.PrintTaskListQuery
	lastRef   string
}

func (s *stubPrintTaskService) List(_ context.Context, query services.PrintTaskListQuery) ([]domain.PrintTask, error) {
	s.lastQuery = query
	if s.err != nil {
		return nil, s.err
	}
	return s.tasks, nil
}

func (s *stubPrintTaskService) ListByOrder(_ context.Context, orderRef string) ([]domain.PrintTask, error) {
	s.lastRef = orderRef
	if s.err != nil {
		return nil, s.err
	}
	return s.tasks, nil
}

func newPrintTaskRouter(svc services.PrintTaskService) http.Handler {
	return NewRouter(WithPrintTaskRoutes(NewPrintTaskHandlers(svc).Routes))
}

func TestPrintTasksListWithStatusFilter(t *testing.T) {
	text := "Alice"
	svc := &stubPrintTaskService{tasks: []domain.PrintTask{{
		ID: "pt_1", OrderID: "ord_1", OrderItemID: "item_1",
		CustomText: &text, Quantity: 1, SKU: "TAG-01",
		Status: domain.PrintTaskStatusPending,
	}}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/print-tasks?status=pending&limit=50", nil)
	rec := httptest.NewRecorder()
	newPrintTaskRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.lastQuery.Status) != 1 || svc.lastQuery.Status[0] != domain.PrintTaskStatusPending {
		t.Fatalf("status filter not forwarded: %+v", svc.lastQuery)
	}
	if svc.lastQuery.Limit != 50 {
		t.Fatalf("limit not forwarded: %d", svc.lastQuery.Limit)
	}
	payload := rec.Body.String()
	if !strings.Contains(payload, `"id":"pt_1"`) || !strings.Contains(payload, `"status":"pending"`) {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestPrintTasksListUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/print-tasks?status=shipped", nil)
	rec := httptest.NewRecorder()
	newPrintTaskRouter(&stubPrintTaskService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPrintTasksListByOrder(t *testing.T) {
	svc := &stubPrintTaskService{}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/240-1111/print-tasks", nil)
	rec := httptest.NewRecorder()
	newPrintTaskRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastRef != "240-1111" {
		t.Fatalf("order ref not forwarded: %q", svc.lastRef)
	}
}

func TestPrintTasksListByOrderNotFound(t *testing.T) {
	svc := &stubPrintTaskService{err: services.ErrPrintTaskNotFound}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/missing/print-tasks", nil)
	rec := httptest.NewRecorder()
	newPrintTaskRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
