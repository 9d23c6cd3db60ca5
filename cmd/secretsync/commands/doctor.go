package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	dserrors "github.com/systmms/secretsync/internal/errors"
	"github.com/systmms/secretsync/internal/remote"
)

// NewDoctorCommand checks secret store and cluster connectivity
func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var (
		verbose     bool
		skipCluster bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check secret store and cluster connectivity",
		Long: `Verify that secretsync is properly configured and can reach its backends.

This command checks:
- Configuration file validity
- Authentication and access for every configured secret store
- Access to the cluster that runs the ExternalSecret controller

Use --verbose to print remediation hints for failing checks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg.Logger.Info("Checking secretsync configuration...")
			if err := loadConfig(cfg, true); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Logger.Info("Configuration loaded successfully")

			stores := newStoreSet(cfg)
			results := make([]Health, 0, len(cfg.Definition.SecretStores)+1)

			for _, name := range cfg.Definition.StoreNames() {
				storeCfg := cfg.Definition.SecretStores[name]
				health := Health{Name: name, Type: storeCfg.Type}

				_, client, err := stores.Client(ctx, name)
				if err == nil {
					err = client.Validate(ctx)
				}
				if err != nil {
					health.fail(storeCfg.Type, err)
				} else {
					health.Status = "healthy"
					health.Message = "secret store is reachable"
				}
				results = append(results, health)
			}

			if !skipCluster {
				results = append(results, checkCluster(cmd, cfg))
			}

			out := cmd.OutOrStdout()
			displayHealthResults(out, results, verbose)

			healthy := 0
			for _, result := range results {
				if result.Status == "healthy" {
					healthy++
				}
			}

			printf(out, "\nSummary: %d/%d checks healthy\n", healthy, len(results))
			if healthy < len(results) {
				return fmt.Errorf("some checks are not healthy")
			}

			cfg.Logger.Info("All systems operational!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show remediation hints for failing checks")
	cmd.Flags().BoolVar(&skipCluster, "skip-cluster", false, "Do not check cluster access")

	return cmd
}

// Health is the result of one doctor check
type Health struct {
	Name        string
	Type        string
	Status      string // healthy, error
	Error       string
	Message     string
	Suggestions []string
}

func (h *Health) fail(backend string, err error) {
	h.Status = "error"
	h.Error = err.Error()

	var rerr *remote.Error
	if errors.As(err, &rerr) {
		if s := rerr.Suggestion(); s != "" {
			h.Suggestions = append(h.Suggestions, s)
		}
		return
	}
	if s := dserrors.BackendSuggestion(backend, err); s != "" {
		h.Suggestions = append(h.Suggestions, s)
	}
	var cfgErr dserrors.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Suggestion != "" {
		h.Suggestions = append(h.Suggestions, cfgErr.Suggestion)
	}
}

func checkCluster(cmd *cobra.Command, cfg *config.Config) Health {
	health := Health{Name: "cluster", Type: "kubernetes"}

	v, err := newValidator(cfg)
	if err != nil {
		health.fail("kubernetes", err)
		return health
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	version, err := v.Ping(ctx)
	if err != nil {
		health.fail("kubernetes", err)
		return health
	}
	health.Status = "healthy"
	health.Message = fmt.Sprintf("server %s, watching %s", version, v.Resource().GroupVersion())
	return health
}

// displayHealthResults shows check results in a formatted table
func displayHealthResults(out io.Writer, results []Health, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	printf(w, "CHECK\tTYPE\tSTATUS\tMESSAGE\n")
	printf(w, "-----\t----\t------\t-------\n")

	for _, result := range results {
		status := result.Status
		message := result.Message
		if result.Error != "" {
			message = result.Error
		}

		switch result.Status {
		case "healthy":
			status = "✓ " + status
		case "error":
			status = "✗ " + status
		}

		printf(w, "%s\t%s\t%s\t%s\n", result.Name, result.Type, status, message)
	}

	_ = w.Flush()

	if !verbose {
		return
	}
	for _, result := range results {
		if result.Status == "error" && len(result.Suggestions) > 0 {
			printf(out, "\n%s (%s) suggestions:\n", result.Name, result.Type)
			for _, suggestion := range result.Suggestions {
				printf(out, "  • %s\n", suggestion)
			}
		}
	}
}
