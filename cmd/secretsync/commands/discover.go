package commands

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/discovery"
)

// NewDiscoverCommand lists the secrets declared in deployment documents
func NewDiscoverCommand(cfg *config.Config) *cobra.Command {
	var flags stageFlags

	cmd := &cobra.Command{
		Use:   "discover [pattern...]",
		Short: "List the secrets declared in deployment values files",
		Long: `Discover scans deployment values files and prints one line per declared
secret. Patterns default to discovery.paths from secretsync.yaml.

No secret store or cluster is contacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			p, err := newPipeline(cfg, &flags, args, pipelineOptions{})
			if err != nil {
				return err
			}
			result, err := p.Discover(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.outputJSON {
				return writeJSON(out, result)
			}
			printDiscovery(cmd, result)
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

func printDiscovery(cmd *cobra.Command, result *discovery.Result) {
	out := cmd.OutOrStdout()

	if len(result.Descriptors) == 0 {
		printf(out, "No secrets found in %d documents\n", len(result.Documents))
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		printf(w, "SCOPE\tCHART\tREMOTE KEY\tPROVISIONING\tSTORE\tSOURCE\n")
		for _, d := range result.Descriptors {
			printf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.DeploymentScope, d.ChartName, d.RemoteKey, d.Provisioning, d.SecretStoreRef, d.SourceLocation)
		}
		_ = w.Flush()
	}

	for _, perr := range result.ParseErrors {
		printf(cmd.ErrOrStderr(), "skipped %v\n", perr)
	}
	for _, verr := range result.Invalid {
		printf(cmd.ErrOrStderr(), "invalid %v\n", verr)
	}
	printf(out, "\n%d secrets in %d documents\n", len(result.Descriptors), len(result.Documents))
}
