package commands

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/pipeline"
)

// NewCheckCommand reports which declared secrets exist in their stores
func NewCheckCommand(cfg *config.Config) *cobra.Command {
	var flags stageFlags

	cmd := &cobra.Command{
		Use:   "check [pattern...]",
		Short: "Show which declared secrets exist in their secret stores",
		Long: `Check discovers the declared secrets and asks each secret store whether
the remote key exists. Nothing is written.

Exits non-zero when the status of any key could not be determined.`,
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
			result, err := p.Check(ctx, disc.Descriptors)
			if err != nil {
				return userError(err)
			}

			if flags.outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printCheck(cmd, result)
			}

			if len(result.Failed()) > 0 {
				return ErrStageFailed
			}
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

func printCheck(cmd *cobra.Command, result *pipeline.CheckResult) {
	out := cmd.OutOrStdout()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	printf(w, "REMOTE KEY\tSTORE\tEXISTS\tVERSIONS\tLAST UPDATED\n")
	seen := make(map[string]bool)
	for _, e := range result.Entries {
		key := e.Key().String()
		if seen[key] {
			continue
		}
		seen[key] = true

		if e.Err != nil {
			printf(w, "%s\t%s\t%s\t-\t-\n", e.Descriptor.RemoteKey, e.Store, "error")
			continue
		}
		exists := yesNo(e.Status.Exists)
		if e.Status.Empty() {
			exists = "empty"
		}
		printf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.Descriptor.RemoteKey, e.Store, exists, e.Status.VersionCount, formatTime(e.Status.LastUpdated))
	}
	_ = w.Flush()

	for _, e := range result.Failed() {
		printf(cmd.ErrOrStderr(), "%s: %v\n", e.Descriptor.RemoteKey, e.Err)
	}
	printf(out, "\n%d existing, %d missing, %d unknown\n",
		len(result.Existing()), len(result.Missing()), len(result.Failed()))
}
