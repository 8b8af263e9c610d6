package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/y3dhub/api/internal/services"
)

var (
	planMaxColors int
	planMaxItems  int
	planLimit     int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Pack pending print tasks onto plates",
	Long: `Plan snapshots the pending print tasks and packs them onto plates.
Each plate holds jobs of a single SKU whose combined colors and item count
stay within the configured limits. Flags override the configured defaults.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().IntVar(&planMaxColors, "max-colors", 0, "maximum colors loaded per plate (0 uses the configured default)")
	planCmd.Flags().IntVar(&planMaxItems, "max-items", 0, "maximum items per plate (0 uses the configured default)")
	planCmd.Flags().IntVar(&planLimit, "limit", 0, "maximum pending tasks to snapshot (0 uses the service default)")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sequence, err := rt.plans.PlanPending(ctx, services.PlanCommand{
		MaxColorsPerPlate: planMaxColors,
		MaxItemsPerPlate:  planMaxItems,
	}, planLimit)
	if err != nil {
		if errors.Is(err, services.ErrPlanUnsatisfiable) {
			return fmt.Errorf("cannot satisfy constraints with given jobList")
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d jobs packed onto %d plates\n", sequence.TotalJobs, sequence.TotalTasks)
	for _, plate := range sequence.Plates {
		jobIDs := make([]string, 0, len(plate.AssignedJobs))
		sku := ""
		for _, job := range plate.AssignedJobs {
			jobIDs = append(jobIDs, job.ID)
			sku = job.SKU
		}
		fmt.Fprintf(out, "plate %d: sku=%s items=%d colors=[%s]\n",
			plate.TaskNumber, sku, plate.EstimatedItems, strings.Join(plate.ColorsLoaded, ", "))
		fmt.Fprintf(out, "  jobs: %s\n", strings.Join(jobIDs, ", "))
	}
	return nil
}
