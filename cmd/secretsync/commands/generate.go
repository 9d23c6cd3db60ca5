package commands

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/pipeline"
)

// NewGenerateCommand creates the secrets that are missing from their stores
func NewGenerateCommand(cfg *config.Config) *cobra.Command {
	var flags stageFlags

	cmd := &cobra.Command{
		Use:   "generate [pattern...]",
		Short: "Create missing secrets in their secret stores",
		Long: `Generate discovers the declared secrets, checks which are missing, and
creates them. Secrets with an enabled generator are synthesized; manual
secrets are read from SECRETSYNC_VALUE_<KEY>, the OS keyring, or a prompt.

Existing secrets are never overwritten. Use --dry-run to see the plan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			p, err := newPipeline(cfg, &flags, args, pipelineOptions{stores: true})
			if err != nil {
				return err
			}
			disc, err := p.Discover(ctx)
			if err != nil {
				return err
			}
			check, err := p.Check(ctx, disc.Descriptors)
			if err != nil {
				return userError(err)
			}
			result, err := p.Generate(ctx, check)
			if err != nil {
				return userError(err)
			}

			if flags.outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printGenerate(cmd, result, len(check.Existing()))
			}

			if len(result.Failed()) > 0 {
				return ErrStageFailed
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Show what would be created without writing")
	return cmd
}

func printGenerate(cmd *cobra.Command, result *pipeline.GenerateResult, existing int) {
	out := cmd.OutOrStdout()

	if len(result.Outcomes) == 0 {
		printf(out, "Nothing to do: all %d secrets exist\n", existing)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	printf(w, "REMOTE KEY\tSTORE\tPROVISIONING\tACTION\tDETAILS\n")
	for _, o := range result.Outcomes {
		details := o.Reason
		if o.Strength != nil && o.Strength.Weak() {
			details = "weak value"
		}
		printf(w, "%s\t%s\t%s\t%s\t%s\n", o.RemoteKey, o.Store, o.Provisioning, o.Action, details)
	}
	_ = w.Flush()

	printf(out, "\n%d created, %d updated, %d skipped, %d failed\n",
		result.Count(pipeline.ActionCreated), result.Count(pipeline.ActionUpdated),
		result.Count(pipeline.ActionSkipped), result.Count(pipeline.ActionFailed))
}
