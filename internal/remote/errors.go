package remote

import (
	"errors"
	"fmt"
	"strings"

	dserrors "github.com/systmms/secretsync/internal/errors"
)

// ErrorKind classifies a backend failure
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindAuth
	KindPermission
	KindNotFound
	KindTransient
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "authentication"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not found"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	default:
		return "other"
	}
}

// Error is a classified backend failure
type Error struct {
	Kind    ErrorKind
	Op      string
	Backend string
	Key     string

	// Identity is the caller identity when the backend can report it.
	Identity string

	// Permission names the permission the operation needs.
	Permission string

	// Attempts is set when a transient failure outlived its retries.
	Attempts int

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Backend)
	b.WriteString(": ")
	b.WriteString(e.Op)
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " (gave up after %d attempts)", e.Attempts)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Suggestion returns remediation text for the failure
func (e *Error) Suggestion() string {
	identity := e.Identity
	if identity == "" {
		identity = "the active identity"
	}

	switch e.Kind {
	case KindPermission:
		if e.Permission != "" {
			return fmt.Sprintf("Grant %s to %s", e.Permission, identity)
		}
		return fmt.Sprintf("Grant %s access to %s", identity, e.Backend)
	case KindAuth:
		switch e.Backend {
		case TypeGCPSecretManager:
			return "Run 'gcloud auth application-default login' or set GOOGLE_APPLICATION_CREDENTIALS"
		case TypeAWSSecretsManager, TypeAWSSSM:
			return "Configure AWS credentials: 'aws configure', 'aws sso login', or set AWS_PROFILE"
		case TypeAzureKeyVault:
			return "Run 'az login' or configure a managed identity"
		}
		return "Check the backend credentials"
	case KindTransient:
		return "The backend is throttling or unavailable. Lower remote.concurrency or try again later"
	case KindConflict:
		return fmt.Sprintf("%s already exists; another run may have created it", e.Key)
	}
	if e.Err != nil {
		return dserrors.BackendSuggestion(e.Backend, e.Err)
	}
	return ""
}

// UserError converts the failure into a user-facing error
func (e *Error) UserError() error {
	msg := fmt.Sprintf("%s %s failed", e.Backend, e.Op)
	if e.Key != "" {
		msg = fmt.Sprintf("%s %s failed for %s", e.Backend, e.Op, e.Key)
	}
	details := e.Kind.String()
	if e.Err != nil {
		details = e.Err.Error()
	}
	return dserrors.UserError{
		Message:    msg,
		Details:    details,
		Suggestion: e.Suggestion(),
		Err:        e,
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return KindOther, false
}

// IsNotFound reports whether err means the key does not exist
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsConflict reports whether err means the key already exists
func IsConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConflict
}

// IsTransient reports whether err is eligible for retry
func IsTransient(err error) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Kind == KindTransient && rerr.Attempts == 0
}

// IsFatal reports whether err must abort the whole run: credential and
// permission failures, and transient failures that exhausted their retries.
func IsFatal(err error) bool {
	var rerr *Error
	if !errors.As(err, &rerr) {
		return false
	}
	switch rerr.Kind {
	case KindAuth, KindPermission:
		return true
	case KindTransient:
		return rerr.Attempts > 0
	}
	return false
}

// newError builds an Error, treating an unclassified error that looks
// transient as KindTransient.
func newError(kind ErrorKind, backend, op, key string, err error) *Error {
	if kind == KindOther && dserrors.IsRetryable(err) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Backend: backend, Key: key, Err: err}
}
