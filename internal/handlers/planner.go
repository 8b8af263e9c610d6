package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/platform/httpx"
	"github.com/y3dhub/api/internal/services"
)

// Body returned verbatim when the constraints cannot be satisfied. Plain text
// for compatibility with the print-station consumers.
const plannerUnsatisfiableBody = "ERROR: cannot satisfy constraints with given jobList"

// PlannerHandlers exposes the plate planning endpoint.
type PlannerHandlers struct {
	plans services.PlanService
}

// NewPlannerHandlers constructs the planner handlers.
func NewPlannerHandlers(plans services.PlanService) *PlannerHandlers {
	return &PlannerHandlers{plans: plans}
}

// Routes registers the planner endpoints.
func (h *PlannerHandlers) Routes(r chi.Router) {
	r.Post("/planner:plan", h.plan)
}

type plannerJobPayload struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
	Color1     string `json:"color1,omitempty"`
	Color2     string `json:"color2,omitempty"`
	CustomText string `json:"customText,omitempty"`
}

type plannerRequest struct {
	JobList     []plannerJobPayload `json:"jobList"`
	Constraints struct {
		MaxColorsPerTask int `json:"maxColorsPerTask"`
		MaxTaskItems     int `json:"maxTaskItems"`
	} `json:"constraints"`
}

type plannerTaskPayload struct {
	TaskNumber            int                 `json:"taskNumber"`
	ColorsLoaded          []string            `json:"colorsLoaded"`
	EstimatedItemsOnPlate int                 `json:"estimatedItemsOnPlate"`
	AssignedJobs          []plannerJobPayload `json:"assignedJobs"`
}

type plannerResponse struct {
	TaskSequence struct {
		Metadata struct {
			TotalJobs  int `json:"totalJobs"`
			TotalTasks int `json:"totalTasks"`
		} `json:"metadata"`
		Tasks []plannerTaskPayload `json:"tasks"`
	} `json:"taskSequence"`
}

func (h *PlannerHandlers) plan(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.plans == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", "planner unavailable", http.StatusServiceUnavailable))
		return
	}

	var req plannerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.PlanCommand{
		Jobs:              make([]domain.PlateJob, 0, len(req.JobList)),
		MaxColorsPerPlate: req.Constraints.MaxColorsPerTask,
		MaxItemsPerPlate:  req.Constraints.MaxTaskItems,
	}
	for _, job := range req.JobList {
		cmd.Jobs = append(cmd.Jobs, domain.PlateJob{
			ID:         job.ID,
			SKU:        job.SKU,
			Quantity:   job.Quantity,
			Color1:     job.Color1,
			Color2:     job.Color2,
			CustomText: job.CustomText,
		})
	}

	sequence, err := h.plans.Plan(r.Context(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPlanUnsatisfiable):
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(plannerUnsatisfiableBody))
		case errors.Is(err, services.ErrPlanInvalidInput):
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(r.Context(), w, httpx.NewError("internal_error", "planning failed", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, buildPlannerResponse(sequence))
}

func buildPlannerResponse(sequence domain.PlateSequence) plannerResponse {
	var resp plannerResponse
	resp.TaskSequence.Metadata.TotalJobs = sequence.TotalJobs
	resp.TaskSequence.Metadata.TotalTasks = sequence.TotalTasks
	resp.TaskSequence.Tasks = make([]plannerTaskPayload, 0, len(sequence.Plates))
	for _, plate := range sequence.Plates {
		task := plannerTaskPayload{
			TaskNumber:            plate.TaskNumber,
			ColorsLoaded:          plate.ColorsLoaded,
			EstimatedItemsOnPlate: plate.EstimatedItems,
			AssignedJobs:          make([]plannerJobPayload, 0, len(plate.AssignedJobs)),
		}
		for _, assigned := range plate.AssignedJobs {
			task.AssignedJobs = append(task.AssignedJobs, plannerJobPayload{
				ID:         assigned.ID,
				SKU:        assigned.SKU,
				Quantity:   assigned.Quantity,
				Color1:     assigned.Color1,
				Color2:     assigned.Color2,
				CustomText: assigned.CustomText,
			})
		}
		resp.TaskSequence.Tasks = append(resp.TaskSequence.Tasks, task)
	}
	return resp
}
