// Package failure defines the error kinds a deployment run can end with.
//
// Each kind has its own propagation policy: Fatal and CommandFailed are never
// retried and abort the run, Timeout resolves the run as timed out (re-running
// is safe), GateFailure means the verification hook rejected the deployed
// workload and overrides any healthy controller status.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	// KindFatal is a configuration problem: missing tool, file, CRD or auth.
	KindFatal Kind = "Fatal"

	// KindCommandFailed is a Fatal subtype for an external command that ran and
	// reported an error (bad values, chart not found, RBAC denial, unreachable repo).
	KindCommandFailed Kind = "CommandFailed"

	// KindTimeout means a readiness or convergence deadline elapsed.
	KindTimeout Kind = "Timeout"

	// KindGateFailure means a verification hook reported Fail.
	KindGateFailure Kind = "GateFailure"
)

// Severity orders kinds; GateFailure is the most severe.
func (k Kind) Severity() int {
	switch k {
	case KindGateFailure:
		return 3
	case KindFatal, KindCommandFailed:
		return 2
	case KindTimeout:
		return 1
	default:
		return 0
	}
}

// IsFatal reports whether k aborts the run without a retry hint.
func (k Kind) IsFatal() bool {
	return k == KindFatal || k == KindCommandFailed
}

// Error is a classified failure carrying what an operator needs to triage it
// from logs alone.
type Error struct {
	Kind      Kind
	Component string
	Reason    string

	// Attempted describes the action that was taken.
	Attempted string

	// Observed describes what came back.
	Observed string

	// Remediation is the action that makes the next invocation succeed.
	Remediation string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", e.Component, e.Kind)
	if e.Attempted != "" {
		fmt.Fprintf(&b, ": %s", e.Attempted)
	}
	if e.Observed != "" {
		fmt.Fprintf(&b, ": %s", e.Observed)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error. err may be nil.
func New(kind Kind, component, reason string, err error) *Error {
	return &Error{Kind: kind, Component: component, Reason: reason, Err: err}
}

// Fatal builds a KindFatal Error.
func Fatal(component, reason string, err error) *Error {
	return New(KindFatal, component, reason, err)
}

// Timeout builds a KindTimeout Error.
func Timeout(component, reason string, err error) *Error {
	return New(KindTimeout, component, reason, err)
}

// WithAttempt sets the attempted action.
func (e *Error) WithAttempt(format string, args ...any) *Error {
	e.Attempted = fmt.Sprintf(format, args...)
	return e
}

// WithObserved sets the observed result.
func (e *Error) WithObserved(format string, args ...any) *Error {
	e.Observed = fmt.Sprintf(format, args...)
	return e
}

// WithRemediation sets the remediation hint.
func (e *Error) WithRemediation(format string, args ...any) *Error {
	e.Remediation = fmt.Sprintf(format, args...)
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf classifies err. Unclassified non-nil errors are Fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindFatal
}

// IsTimeout reports whether err is classified as a Timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// ExitCode maps a kind to the process exit code. Success is 0.
func ExitCode(k Kind) int {
	switch k {
	case "":
		return 0
	case KindTimeout:
		return 2
	case KindGateFailure:
		return 3
	default:
		return 1
	}
}
