package discovery

import "fmt"

// ParseError reports a document that could not be read or decoded.
// The document is skipped and the scan continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports a declaration that matched a secrets shape but
// produced a malformed descriptor.
type ValidationError struct {
	Path      string
	Chart     string
	RemoteKey string
	Field     string
	Message   string
}

func (e *ValidationError) Error() string {
	key := e.RemoteKey
	if key == "" {
		key = "<empty>"
	}
	return fmt.Sprintf("%s: chart %q secret %s: %s %s", e.Path, e.Chart, key, e.Field, e.Message)
}
