package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/pipeline"
)

// NewSyncCommand runs discover, check, generate, and validate in order
func NewSyncCommand(cfg *config.Config) *cobra.Command {
	var flags stageFlags

	cmd := &cobra.Command{
		Use:   "sync [pattern...]",
		Short: "Create missing secrets and wait for the cluster to sync them",
		Long: `Sync runs every stage in order: discover the declared secrets, check which
exist, create the missing ones, then wait for each chart's ExternalSecret to
converge.

With --dry-run, sync stops after reporting what generate would do and the
cluster is not contacted.

Exits non-zero unless every delivery object converged. Failing remote keys
and objects are listed with the condition they did not meet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			p, err := newPipeline(cfg, &flags, args, pipelineOptions{stores: true, validator: true})
			if err != nil {
				return err
			}
			report, err := p.Sync(ctx)
			if err != nil {
				return userError(err)
			}

			if flags.outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printReport(cmd, report)
			}

			if !report.Success {
				return ErrStageFailed
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Plan generate actions without writing or polling")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Per-object convergence timeout (default from config)")
	return cmd
}

func printReport(cmd *cobra.Command, report *pipeline.Report) {
	out := cmd.OutOrStdout()

	if report.Generate != nil {
		existing := 0
		if report.Check != nil {
			existing = len(report.Check.Existing())
		}
		printGenerate(cmd, report.Generate, existing)
	}
	if report.Convergence != nil {
		printf(out, "\n")
		printConvergence(cmd, report.Convergence)
	}

	if len(report.Failures) > 0 {
		printf(out, "\nFailures:\n")
		for _, f := range report.Failures {
			printf(out, "  %s\n", f)
		}
	}

	switch {
	case report.DryRun:
		printf(out, "\nDry run complete, nothing was written\n")
	case report.Success:
		printf(out, "\nAll secrets synced\n")
	}
}
