package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/y3dhub/api/internal/services"
)

var (
	reconcileDryRun bool
	reconcileLimit  int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [orderRef...]",
	Short: "Reconcile print tasks for one or more orders",
	Long: `Reconcile runs the personalization pipeline for each order reference
(order ID or marketplace order number) and converges its stored print tasks.

Orders are processed sequentially. One failing order does not stop the batch;
the command exits non-zero when any order failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "compute the task diff without writing")
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 0, "process at most N of the given order refs (0 means all)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	refs := args
	if reconcileLimit > 0 && reconcileLimit < len(refs) {
		refs = refs[:reconcileLimit]
	}

	out := cmd.OutOrStdout()
	failed := 0
	var warnings []string
	for _, ref := range refs {
		result, err := rt.reconciles.Reconcile(ctx, services.ReconcileCommand{
			OrderRef: ref,
			DryRun:   reconcileDryRun,
		})
		if err != nil {
			failed++
			rt.logger.Error("reconcile failed", zap.String("order_ref", ref), zap.Error(err))
			fmt.Fprintf(out, "%s: FAILED: %v\n", ref, err)
			continue
		}
		printReconcileResult(out, ref, result)
		for _, warning := range result.Warnings {
			warnings = append(warnings, fmt.Sprintf("%s: %s", ref, warning))
		}
	}

	if len(warnings) > 0 {
		fmt.Fprintf(out, "\n%d warnings across %d orders:\n", len(warnings), len(refs))
		for _, warning := range warnings {
			fmt.Fprintf(out, "  %s\n", warning)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d orders failed", failed, len(refs))
	}
	return nil
}

func printReconcileResult(out io.Writer, ref string, result services.ReconcileResult) {
	label := result.OrderNumber
	if label == "" {
		label = result.OrderID
	}
	mode := ""
	if result.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "%s [%s]%s: created=%d updated=%d unchanged=%d warnings=%d\n",
		ref, label, mode, result.Created, result.Updated, result.Unchanged, len(result.Warnings))
	review := 0
	for _, task := range result.Tasks {
		if task.NeedsReview {
			review++
		}
	}
	if review > 0 {
		fmt.Fprintf(out, "  %d of %d tasks need review\n", review, len(result.Tasks))
	}
}
