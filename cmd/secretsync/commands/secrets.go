package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/input"
	"github.com/systmms/secretsync/internal/remote"
)

// openStore loads configuration and opens the client for a store reference
func openStore(ctx context.Context, cfg *config.Config, ref string) (string, *remote.Client, error) {
	if err := loadConfig(cfg, true); err != nil {
		return "", nil, err
	}
	return newStoreSet(cfg).Client(ctx, ref)
}

// NewStatusCommand shows the backend status of one remote key
func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var (
		storeRef   string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status <remote-key>",
		Short: "Show whether a remote key exists and how many versions it has",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			name, client, err := openStore(ctx, cfg, storeRef)
			if err != nil {
				return err
			}
			status, err := client.Status(ctx, args[0])
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(out, status)
			}
			printf(out, "Remote key:   %s\n", status.RemoteKey)
			printf(out, "Store:        %s (%s)\n", name, client.Backend().Type())
			printf(out, "Exists:       %s\n", yesNo(status.Exists))
			if status.Exists {
				printf(out, "Versions:     %d\n", status.VersionCount)
				printf(out, "Last updated: %s\n", formatTime(status.LastUpdated))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storeRef, "store", "", "Secret store profile (default: defaultSecretStore)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	return cmd
}

// NewListCommand lists the remote keys in a store
func NewListCommand(cfg *config.Config) *cobra.Command {
	var (
		storeRef   string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the remote keys in a secret store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			_, client, err := openStore(ctx, cfg, storeRef)
			if err != nil {
				return err
			}
			keys, err := client.List(ctx)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(out, keys)
			}
			for _, k := range keys {
				printf(out, "%s\n", k)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storeRef, "store", "", "Secret store profile (default: defaultSecretStore)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	return cmd
}

// NewDeleteCommand removes a remote key and all its versions
func NewDeleteCommand(cfg *config.Config) *cobra.Command {
	var (
		storeRef string
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "delete <remote-key>",
		Short: "Delete a remote key and all of its versions",
		Long: `Delete removes a remote key from a secret store. The next generate or sync
run treats it as missing and creates it again.

Asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			key := args[0]
			name, client, err := openStore(ctx, cfg, storeRef)
			if err != nil {
				return err
			}

			if !yes {
				if cfg.NonInteractive || !input.IsInteractive() {
					return fmt.Errorf("refusing to delete %s without --yes in non-interactive mode", key)
				}
				printf(cmd.ErrOrStderr(), "Delete %s from %s? [y/N]: ", key, name)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
					return fmt.Errorf("aborted")
				}
			}

			existed, err := client.Delete(ctx, key)
			if err != nil {
				return userError(err)
			}
			if existed {
				cfg.Logger.Info("Deleted %s from %s", key, name)
			} else {
				cfg.Logger.Warn("%s does not exist in %s", key, name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storeRef, "store", "", "Secret store profile (default: defaultSecretStore)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}
