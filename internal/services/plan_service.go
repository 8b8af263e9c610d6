package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/planner"
	"github.com/y3dhub/api/internal/repositories"
)

var errPlanPrintTasksRequired = errors.New("plan: print task repository is required")

// ErrPlanInvalidInput indicates an unusable planning command.
var ErrPlanInvalidInput = errors.New("plan: invalid input")

// ErrPlanUnsatisfiable indicates no plate assignment can satisfy the constraints.
var ErrPlanUnsatisfiable = errors.New("plan: cannot satisfy constraints with given jobList")

// ErrPlanUnavailable indicates a dependency failure prevented planning.
var ErrPlanUnavailable = errors.New("plan: service unavailable")

// PlanServiceDeps wires planner defaults and the task snapshot source.
type PlanServiceDeps struct {
	PrintTasks        repositories.PrintTaskRepository
	MaxColorsPerPlate int
	MaxItemsPerPlate  int
}

type planService struct {
	tasks            repositories.PrintTaskRepository
	defaultMaxColors int
	defaultMaxItems  int
}

// NewPlanService constructs a PlanService with the provided dependencies.
func NewPlanService(deps PlanServiceDeps) (PlanService, error) {
	if deps.PrintTasks == nil {
		return nil, errPlanPrintTasksRequired
	}
	return &planService{
		tasks:            deps.PrintTasks,
		defaultMaxColors: deps.MaxColorsPerPlate,
		defaultMaxItems:  deps.MaxItemsPerPlate,
	}, nil
}

// Plan packs the command's jobs onto plates.
func (s *planService) Plan(_ context.Context, cmd PlanCommand) (domain.PlateSequence, error) {
	if s == nil {
		return domain.PlateSequence{}, ErrPlanUnavailable
	}
	for _, job := range cmd.Jobs {
		if job.ID == "" {
			return domain.PlateSequence{}, fmt.Errorf("%w: job without id", ErrPlanInvalidInput)
		}
	}
	sequence, err := planner.Plan(cmd.Jobs, s.constraints(cmd))
	if err != nil {
		if errors.Is(err, planner.ErrUnsatisfiable) {
			return domain.PlateSequence{}, fmt.Errorf("%w: %v", ErrPlanUnsatisfiable, err)
		}
		return domain.PlateSequence{}, fmt.Errorf("%w: %v", ErrPlanUnavailable, err)
	}
	return *sequence, nil
}

// PlanPending snapshots pending print tasks and packs them.
func (s *planService) PlanPending(ctx context.Context, cmd PlanCommand, limit int) (domain.PlateSequence, error) {
	if s == nil || s.tasks == nil {
		return domain.PlateSequence{}, ErrPlanUnavailable
	}
	pending, err := s.tasks.List(ctx, repositories.PrintTaskFilter{
		Status: []domain.PrintTaskStatus{domain.PrintTaskStatusPending},
		Limit:  limit,
	})
	if err != nil {
		return domain.PlateSequence{}, fmt.Errorf("%w: %v", ErrPlanUnavailable, err)
	}
	cmd.Jobs = jobsFromTasks(pending)
	return s.Plan(ctx, cmd)
}

func (s *planService) constraints(cmd PlanCommand) planner.Constraints {
	constraints := planner.Constraints{
		MaxColorsPerPlate: cmd.MaxColorsPerPlate,
		MaxItemsPerPlate:  cmd.MaxItemsPerPlate,
	}
	if constraints.MaxColorsPerPlate <= 0 {
		constraints.MaxColorsPerPlate = s.defaultMaxColors
	}
	if constraints.MaxItemsPerPlate <= 0 {
		constraints.MaxItemsPerPlate = s.defaultMaxItems
	}
	return constraints
}

// jobsFromTasks projects stored tasks into plate jobs. Nil colors become "no
// color" and empty texts ride along for operator display.
func jobsFromTasks(tasks []domain.PrintTask) []domain.PlateJob {
	jobs := make([]domain.PlateJob, 0, len(tasks))
	for _, task := range tasks {
		job := domain.PlateJob{
			ID:       task.ID,
			SKU:      task.SKU,
			Quantity: task.Quantity,
		}
		if task.Color1 != nil {
			job.Color1 = *task.Color1
		}
		if task.Color2 != nil {
			job.Color2 = *task.Color2
		}
		if task.CustomText != nil {
			job.CustomText = *task.CustomText
		}
		jobs = append(jobs, job)
	}
	return jobs
}
