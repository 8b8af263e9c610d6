// Package planner packs personalization jobs onto printer plates subject to
// color-slot and item-capacity limits.
package planner

import (
	"errors"
	"fmt"
	"sort"

	domain "github.com/y3dhub/api/internal/domain"
)

// ErrUnsatisfiable is returned when some job can never fit a plate under the
// given constraints.
var ErrUnsatisfiable = errors.New("cannot satisfy constraints with given jobList")

const (
	defaultMaxColorsPerPlate = 4
	defaultMaxItemsPerPlate  = 13
)

// Constraints bound a single plate. Zero values take the printer defaults:
// four loaded colors and thirteen items.
type Constraints struct {
	MaxColorsPerPlate int
	MaxItemsPerPlate  int
}

func (c Constraints) withDefaults() Constraints {
	if c.MaxColorsPerPlate <= 0 {
		c.MaxColorsPerPlate = defaultMaxColorsPerPlate
	}
	if c.MaxItemsPerPlate <= 0 {
		c.MaxItemsPerPlate = defaultMaxItemsPerPlate
	}
	return c
}

type plate struct {
	sku    string
	colors map[string]struct{}
	items  int
	jobs   []domain.PlateJob
}

// Plan assigns every job to exactly one plate. Jobs are grouped by SKU in
// first-seen order and packed greedily, preferring the open plate that
// already has the most of the job's colors loaded.
func Plan(jobs []domain.PlateJob, constraints Constraints) (*domain.PlateSequence, error) {
	constraints = constraints.withDefaults()

	totalJobs := 0
	for _, job := range jobs {
		if job.Quantity <= 0 {
			return nil, fmt.Errorf("%w: job %s has non-positive quantity %d", ErrUnsatisfiable, job.ID, job.Quantity)
		}
		if len(jobColors(job)) > constraints.MaxColorsPerPlate {
			return nil, fmt.Errorf("%w: job %s needs %d colors, plate holds %d",
				ErrUnsatisfiable, job.ID, len(jobColors(job)), constraints.MaxColorsPerPlate)
		}
		if job.Quantity > constraints.MaxItemsPerPlate {
			return nil, fmt.Errorf("%w: job %s has quantity %d, plate holds %d items",
				ErrUnsatisfiable, job.ID, job.Quantity, constraints.MaxItemsPerPlate)
		}
		totalJobs++
	}

	groups, order := groupBySKU(jobs)

	var plates []*plate
	for _, sku := range order {
		for _, job := range groups[sku] {
			target := bestPlate(plates, job, constraints)
			if target == nil {
				target = &plate{sku: job.SKU, colors: make(map[string]struct{})}
				plates = append(plates, target)
			}
			for color := range jobColors(job) {
				target.colors[color] = struct{}{}
			}
			target.items += job.Quantity
			target.jobs = append(target.jobs, job)
		}
	}

	sequence := &domain.PlateSequence{
		TotalJobs:  totalJobs,
		TotalTasks: len(plates),
		Plates:     make([]domain.Plate, 0, len(plates)),
	}
	for i, p := range plates {
		colors := make([]string, 0, len(p.colors))
		for color := range p.colors {
			colors = append(colors, color)
		}
		sort.Strings(colors)
		sequence.Plates = append(sequence.Plates, domain.Plate{
			TaskNumber:     i + 1,
			ColorsLoaded:   colors,
			EstimatedItems: p.items,
			AssignedJobs:   p.jobs,
		})
	}

	if err := verify(jobs, sequence, constraints); err != nil {
		return nil, err
	}
	return sequence, nil
}

// bestPlate picks the open plate with the same SKU and room for the job,
// preferring the one that already shares the most colors with it; ties go to
// the earliest plate.
func bestPlate(plates []*plate, job domain.PlateJob, constraints Constraints) *plate {
	colors := jobColors(job)
	var best *plate
	bestShared := -1
	for _, p := range plates {
		if p.sku != job.SKU {
			continue
		}
		if p.items+job.Quantity > constraints.MaxItemsPerPlate {
			continue
		}
		shared, added := 0, 0
		for color := range colors {
			if _, ok := p.colors[color]; ok {
				shared++
			} else {
				added++
			}
		}
		if len(p.colors)+added > constraints.MaxColorsPerPlate {
			continue
		}
		if shared > bestShared {
			best = p
			bestShared = shared
		}
	}
	return best
}

func jobColors(job domain.PlateJob) map[string]struct{} {
	colors := make(map[string]struct{}, 2)
	if job.Color1 != "" {
		colors[job.Color1] = struct{}{}
	}
	if job.Color2 != "" {
		colors[job.Color2] = struct{}{}
	}
	return colors
}

func groupBySKU(jobs []domain.PlateJob) (map[string][]domain.PlateJob, []string) {
	groups := make(map[string][]domain.PlateJob)
	var order []string
	for _, job := range jobs {
		if _, ok := groups[job.SKU]; !ok {
			order = append(order, job.SKU)
		}
		groups[job.SKU] = append(groups[job.SKU], job)
	}
	return groups, order
}

// verify re-checks the packing invariants on the finished sequence.
func verify(jobs []domain.PlateJob, sequence *domain.PlateSequence, constraints Constraints) error {
	assigned := make(map[string]int, len(jobs))
	for _, p := range sequence.Plates {
		if len(p.ColorsLoaded) > constraints.MaxColorsPerPlate {
			return fmt.Errorf("plate %d loads %d colors, limit %d", p.TaskNumber, len(p.ColorsLoaded), constraints.MaxColorsPerPlate)
		}
		if p.EstimatedItems > constraints.MaxItemsPerPlate {
			return fmt.Errorf("plate %d holds %d items, limit %d", p.TaskNumber, p.EstimatedItems, constraints.MaxItemsPerPlate)
		}
		items := 0
		sku := ""
		union := make(map[string]struct{})
		for _, job := range p.AssignedJobs {
			assigned[job.ID]++
			items += job.Quantity
			for color := range jobColors(job) {
				union[color] = struct{}{}
			}
			if sku == "" {
				sku = job.SKU
			} else if job.SKU != sku {
				return fmt.Errorf("plate %d mixes SKUs %s and %s", p.TaskNumber, sku, job.SKU)
			}
		}
		if items != p.EstimatedItems {
			return fmt.Errorf("plate %d item count %d does not match jobs total %d", p.TaskNumber, p.EstimatedItems, items)
		}
		if len(union) != len(p.ColorsLoaded) {
			return fmt.Errorf("plate %d lists %d colors but its jobs need %d", p.TaskNumber, len(p.ColorsLoaded), len(union))
		}
		for _, color := range p.ColorsLoaded {
			if _, ok := union[color]; !ok {
				return fmt.Errorf("plate %d lists color %s no job needs", p.TaskNumber, color)
			}
		}
	}
	for _, job := range jobs {
		if assigned[job.ID] != 1 {
			return fmt.Errorf("job %s assigned %d times", job.ID, assigned[job.ID])
		}
	}
	return nil
}
