package reminder

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a resolution produced nothing.
type FailureKind int

const (
	// ParseFailure: no resolver produced a result. User visible.
	ParseFailure FailureKind = iota + 1
	// ExternalServiceFailure: the completion call errored or timed out.
	ExternalServiceFailure
	// ValidationFailure: the completion answer did not decode into a full record.
	ValidationFailure
)

func (k FailureKind) String() string {
	switch k {
	case ParseFailure:
		return "parse_failure"
	case ExternalServiceFailure:
		return "external_service_failure"
	case ValidationFailure:
		return "validation_failure"
	default:
		return "unknown"
	}
}

var ErrParseFailure = errors.New("reminder: could not understand message")

// Failure carries the kind and underlying cause of a failed resolution step.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func failf(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}
