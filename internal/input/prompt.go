package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompt asks on the terminal without echo. When In is not a terminal a
// single line is read instead.
type Prompt struct {
	In  *os.File
	Out io.Writer

	reader *bufio.Reader
}

// NewPrompt prompts on stdin and writes to stderr
func NewPrompt() *Prompt {
	return &Prompt{In: os.Stdin, Out: os.Stderr}
}

// Provide asks for a value. Empty input yields ErrNoInput.
func (p *Prompt) Provide(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	label := fmt.Sprintf("Enter value for %s", req)
	if req.Description != "" {
		label += " - " + req.Description
	}
	if req.Optional {
		label += " [optional, leave empty to skip]"
	}
	fmt.Fprintf(p.Out, "%s: ", label)

	var value string
	fd := int(p.In.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", fmt.Errorf("failed to read value for %s: %w", req.RemoteKey, err)
		}
		value = string(b)
	} else {
		if p.reader == nil {
			p.reader = bufio.NewReader(p.In)
		}
		line, err := p.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read value for %s: %w", req.RemoteKey, err)
		}
		value = strings.TrimRight(line, "\r\n")
	}

	if value == "" {
		return "", ErrNoInput
	}
	return value, nil
}

// IsInteractive reports whether stdin is a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
