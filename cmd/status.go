package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/goodreads-search-crawler/internal/checkpoint"
	"github.com/JakeFAU/goodreads-search-crawler/internal/tasks"
)

// newStatusCmd creates the 'status' subcommand, which reports completion
// markers found in the checkpoint directory.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-worker and total completed tasks",
		RunE:  runStatusCommand,
	}
	fs := cmd.Flags()
	fs.String("checkpoint-dir", "", "directory of the checkpoint files")
	fs.String("input", "", "task list, to report completion against its size")
	bindFlag(fs, "checkpoint-dir", "run.checkpoint_dir")
	bindFlag(fs, "input", "run.input")
	return cmd
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	sum, err := checkpoint.Scan(cfg.Run.CheckpointDir)
	if err != nil {
		return fmt.Errorf("scan checkpoints: %w", err)
	}
	perWorker, done := sum.PerWorker, sum.Completed

	ids := make([]int, 0, len(perWorker))
	for id := range perWorker {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	w := cmd.OutOrStdout()
	for _, id := range ids {
		_, _ = fmt.Fprintf(w, "worker %d: %d completed\n", id, perWorker[id])
	}
	for _, path := range sum.Unreadable {
		_, _ = fmt.Fprintf(w, "unreadable: %s\n", path)
	}
	if sum.Torn > 0 {
		_, _ = fmt.Fprintf(w, "ignored %d interrupted markers\n", sum.Torn)
	}
	if sum.Skipped > 0 {
		_, _ = fmt.Fprintf(w, "skipped %d malformed markers\n", sum.Skipped)
	}
	if cfg.Run.Input == "" {
		_, _ = fmt.Fprintf(w, "total: %d completed\n", len(done))
		return nil
	}
	all, err := tasks.Load(cfg.Run.Input)
	if err != nil {
		return err
	}
	pct := 0.0
	if len(all) > 0 {
		pct = float64(len(done)) / float64(len(all)) * 100
	}
	_, _ = fmt.Fprintf(w, "total: %d/%d completed (%.1f%%), %d remaining\n",
		len(done), len(all), pct, len(tasks.Excluding(all, done)))
	return nil
}
