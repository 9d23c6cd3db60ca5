package commands

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/convergence"
)

// NewValidateCommand waits for delivery objects to report the secrets synced
func NewValidateCommand(cfg *config.Config) *cobra.Command {
	var flags stageFlags

	cmd := &cobra.Command{
		Use:   "validate [pattern...]",
		Short: "Wait until the cluster reports every declared secret synced",
		Long: `Validate polls the ExternalSecret object of each chart that declares
secrets (<chart>-credentials) until both its Ready and SecretSynced
conditions are True, or the timeout elapses.

Exits non-zero unless every object converged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			p, err := newPipeline(cfg, &flags, args, pipelineOptions{validator: true})
			if err != nil {
				return err
			}
			disc, err := p.Discover(ctx)
			if err != nil {
				return err
			}
			batch, err := p.Validate(ctx, disc.Descriptors)
			if err != nil {
				return err
			}

			if flags.outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), batch); err != nil {
					return err
				}
			} else {
				printConvergence(cmd, batch)
			}

			if !batch.Success {
				return ErrStageFailed
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Per-object convergence timeout (default from config)")
	return cmd
}

func printConvergence(cmd *cobra.Command, batch *convergence.BatchResult) {
	out := cmd.OutOrStdout()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	printf(w, "SCOPE\tNAMESPACE\tOBJECT\tREADY\tSYNCED\tSTATE\tDETAILS\n")
	for _, g := range batch.Groups {
		for _, r := range g.Results {
			printf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				g.Scope, r.Namespace, r.Name, yesNo(r.Ready), yesNo(r.Synced), r.State, r.Error)
		}
	}
	_ = w.Flush()

	printf(out, "\n%d/%d synced, %d ready, %d errors\n", batch.Synced, batch.Total, batch.Ready, batch.Errors)
}
