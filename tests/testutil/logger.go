package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/secretsync/internal/logging"
)

// TestLogger captures log output for validation in tests.
//
// It wraps a real logging.Logger writing into an in-memory buffer, so tests
// exercise the same formatting and redaction as production code.
//
//	logger := NewTestLogger(t)
//	svc := pipeline.New(pipeline.Options{Logger: logger.Logger()})
//	...
//	logger.AssertRedacted(t, "password123")
type TestLogger struct {
	buffer *syncBuffer
	logger *logging.Logger
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// NewTestLogger creates a TestLogger with debug disabled
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	return NewTestLoggerWithDebug(t, false)
}

// NewTestLoggerWithDebug creates a TestLogger that also captures debug lines when debug is true
func NewTestLoggerWithDebug(t *testing.T, debug bool) *TestLogger {
	t.Helper()

	buf := &syncBuffer{}
	return &TestLogger{
		buffer: buf,
		logger: logging.NewWithWriter(buf, debug, true),
	}
}

// Logger returns the logger to inject into the code under test
func (l *TestLogger) Logger() *logging.Logger {
	return l.logger
}

// GetOutput returns everything captured so far
func (l *TestLogger) GetOutput() string {
	return l.buffer.String()
}

// Clear drops the captured output
func (l *TestLogger) Clear() {
	l.buffer.Reset()
}

// AssertContains asserts that the log output contains substr
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does NOT contain substr
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertRedacted asserts that a secret value never reached the log output
func (l *TestLogger) AssertRedacted(t *testing.T, secretValue string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), secretValue,
		"Secret value %q should be redacted, but appears in logs", secretValue)
}

// AssertLogCount asserts how many lines were logged at a level (info, warn, error, debug)
func (l *TestLogger) AssertLogCount(t *testing.T, level string, count int) {
	t.Helper()

	var marker string
	switch level {
	case "info":
		marker = "✓ "
	case "warn":
		marker = "⚠ "
	case "error":
		marker = "✗ "
	case "debug":
		marker = "[DEBUG] "
	default:
		t.Fatalf("Unknown log level: %s", level)
	}

	actual := 0
	for _, line := range l.Lines() {
		if strings.HasPrefix(line, marker) {
			actual++
		}
	}
	assert.Equal(t, count, actual, "Expected %d %s log messages, got %d", count, level, actual)
}

// Lines returns the non-empty captured lines
func (l *TestLogger) Lines() []string {
	lines := strings.Split(l.GetOutput(), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
