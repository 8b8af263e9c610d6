package planner

import (
	"errors"
	"testing"

	domain "github.com/y3dhub/api/internal/domain"
)

func job(id, sku string, qty int, colors ...string) domain.PlateJob {
	j := domain.PlateJob{ID: id, SKU: sku, Quantity: qty, CustomText: id}
	if len(colors) > 0 {
		j.Color1 = colors[0]
	}
	if len(colors) > 1 {
		j.Color2 = colors[1]
	}
	return j
}

func TestPlanSplitsOnItemCapacity(t *testing.T) {
	jobs := []domain.PlateJob{
		job("j1", "TAG-01", 3, "Black"),
		job("j2", "TAG-01", 3, "Black"),
		job("j3", "TAG-01", 3, "Black"),
		job("j4", "TAG-01", 3, "Black"),
		job("j5", "TAG-01", 3, "Black"),
	}

	sequence, err := Plan(jobs, Constraints{})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if sequence.TotalJobs != 5 {
		t.Fatalf("expected 5 total jobs, got %d", sequence.TotalJobs)
	}
	if sequence.TotalTasks != 2 {
		t.Fatalf("expected 2 plates, got %d", sequence.TotalTasks)
	}
	if got := sequence.Plates[0].EstimatedItems; got != 12 {
		t.Fatalf("expected first plate to hold 12 items, got %d", got)
	}
	if got := sequence.Plates[1].EstimatedItems; got != 3 {
		t.Fatalf("expected second plate to hold 3 items, got %d", got)
	}
	if sequence.Plates[0].TaskNumber != 1 || sequence.Plates[1].TaskNumber != 2 {
		t.Fatalf("expected sequential task numbers, got %d and %d",
			sequence.Plates[0].TaskNumber, sequence.Plates[1].TaskNumber)
	}
}

func TestPlanPrefersSharedColors(t *testing.T) {
	jobs := []domain.PlateJob{
		job("j1", "TAG-01", 1, "Black", "Gold"),
		job("j2", "TAG-01", 1, "White", "Silver"),
		job("j3", "TAG-01", 1, "Black", "Gold"),
	}

	sequence, err := Plan(jobs, Constraints{MaxColorsPerPlate: 2, MaxItemsPerPlate: 13})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if sequence.TotalTasks != 2 {
		t.Fatalf("expected 2 plates, got %d", sequence.TotalTasks)
	}
	// j3 shares colors with j1's plate and must land there, not on j2's.
	var blackGold *domain.Plate
	for i := range sequence.Plates {
		for _, assigned := range sequence.Plates[i].AssignedJobs {
			if assigned.ID == "j1" {
				blackGold = &sequence.Plates[i]
			}
		}
	}
	if blackGold == nil {
		t.Fatalf("j1 not assigned")
	}
	found := false
	for _, assigned := range blackGold.AssignedJobs {
		if assigned.ID == "j3" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected j3 to share a plate with j1, plates: %+v", sequence.Plates)
	}
}

func TestPlanKeepsSKUsApart(t *testing.T) {
	jobs := []domain.PlateJob{
		job("j1", "TAG-01", 1, "Black"),
		job("j2", "TAG-02", 1, "Black"),
	}

	sequence, err := Plan(jobs, Constraints{})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if sequence.TotalTasks != 2 {
		t.Fatalf("expected one plate per SKU, got %d plates", sequence.TotalTasks)
	}
}

func TestPlanColorLimit(t *testing.T) {
	jobs := []domain.PlateJob{
		job("j1", "TAG-01", 1, "Black", "Gold"),
		job("j2", "TAG-01", 1, "White", "Silver"),
		job("j3", "TAG-01", 1, "Red", "Blue"),
	}

	sequence, err := Plan(jobs, Constraints{MaxColorsPerPlate: 4, MaxItemsPerPlate: 13})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if sequence.TotalTasks != 2 {
		t.Fatalf("expected a second plate once four color slots fill, got %d", sequence.TotalTasks)
	}
	for _, p := range sequence.Plates {
		if len(p.ColorsLoaded) > 4 {
			t.Fatalf("plate %d loads %d colors", p.TaskNumber, len(p.ColorsLoaded))
		}
	}
}

func TestPlanUnsatisfiableQuantity(t *testing.T) {
	jobs := []domain.PlateJob{job("j1", "TAG-01", 20, "Black")}

	_, err := Plan(jobs, Constraints{})
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("expected ErrUnsatisfiable, got %v", err)
	}
}

func TestPlanUnsatisfiableColors(t *testing.T) {
	jobs := []domain.PlateJob{job("j1", "TAG-01", 1, "Black", "Gold")}

	_, err := Plan(jobs, Constraints{MaxColorsPerPlate: 1, MaxItemsPerPlate: 13})
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("expected ErrUnsatisfiable, got %v", err)
	}
}

func TestPlanEmptyInput(t *testing.T) {
	sequence, err := Plan(nil, Constraints{})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if sequence.TotalJobs != 0 || sequence.TotalTasks != 0 {
		t.Fatalf("expected empty sequence, got %+v", sequence)
	}
}

func TestVerifyRejectsColorsNotMatchingJobs(t *testing.T) {
	jobs := []domain.PlateJob{job("j1", "TAG-01", 1, "Red")}
	constraints := Constraints{MaxColorsPerPlate: 4, MaxItemsPerPlate: 13}

	sequence := &domain.PlateSequence{
		TotalJobs:  1,
		TotalTasks: 1,
		Plates: []domain.Plate{{
			TaskNumber:     1,
			ColorsLoaded:   []string{"Blue"},
			EstimatedItems: 1,
			AssignedJobs:   jobs,
		}},
	}
	if err := verify(jobs, sequence, constraints); err == nil {
		t.Fatalf("expected verify to reject colors not needed by any job")
	}

	sequence.Plates[0].ColorsLoaded = []string{"Red", "Blue"}
	if err := verify(jobs, sequence, constraints); err == nil {
		t.Fatalf("expected verify to reject extra listed color")
	}

	sequence.Plates[0].ColorsLoaded = []string{"Red"}
	if err := verify(jobs, sequence, constraints); err != nil {
		t.Fatalf("expected exact color union to pass, got %v", err)
	}
}
