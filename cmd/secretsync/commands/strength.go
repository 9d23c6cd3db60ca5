package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/generator"
	"github.com/systmms/secretsync/internal/input"
	"github.com/systmms/secretsync/internal/secure"
)

// NewStrengthCommand scores a value without storing it
func NewStrengthCommand(cfg *config.Config) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "strength",
		Short: "Score a candidate secret value",
		Long: `Strength reads a value (without echo on a terminal, or one line from
stdin) and prints its score from 0 to 4 with hints for improving it.
Manual secrets scoring below 3 are reported as weak by generate and sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			raw, err := newPrompt(cmd).Provide(ctx, input.Request{RemoteKey: "candidate"})
			if errors.Is(err, input.ErrNoInput) {
				return errors.New("no value provided")
			}
			if err != nil {
				return err
			}

			value := secure.FromString(raw)
			defer value.Destroy()

			var s generator.Strength
			_ = value.Use(func(b []byte) error {
				s = generator.Score(string(b))
				return nil
			})

			out := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(out, s)
			}
			verdict := "acceptable"
			if s.Weak() {
				verdict = "weak"
			}
			printf(out, "Score: %d/%d (%s)\n", s.Score, generator.MaxScore, verdict)
			for _, h := range s.Hints {
				printf(out, "  - %s\n", h)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	return cmd
}

// newPrompt reads from the command's input when it is a file
func newPrompt(cmd *cobra.Command) *input.Prompt {
	p := input.NewPrompt()
	if f, ok := cmd.InOrStdin().(*os.File); ok {
		p.In = f
	}
	p.Out = cmd.ErrOrStderr()
	return p
}
