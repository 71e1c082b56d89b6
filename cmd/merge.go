package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/results"
)

// newMergeCmd creates the 'merge' subcommand, which rebuilds the merged
// output from the worker sinks without running anything.
func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge existing worker outputs into the output file",
		RunE:  runMergeCommand,
	}
	fs := cmd.Flags()
	fs.String("output", "", "merged results CSV")
	fs.String("checkpoint-dir", "", "directory of the worker output files")
	bindFlag(fs, "output", "run.output")
	bindFlag(fs, "checkpoint-dir", "run.checkpoint_dir")
	return cmd
}

func runMergeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	sinks, err := results.DiscoverSinks(cfg.Run.CheckpointDir)
	if err != nil {
		return fmt.Errorf("discover worker outputs: %w", err)
	}
	rows, err := results.Merge(sinks, cfg.Run.Output)
	if err != nil {
		return err
	}
	appInstance.Logger.Info("merged worker outputs",
		zap.Int("sinks", len(sinks)),
		zap.Int("rows", rows),
		zap.String("output", cfg.Run.Output),
	)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Merged %d worker outputs into %s (%d rows)\n", len(sinks), cfg.Run.Output, rows)
	return nil
}
