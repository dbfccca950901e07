package engine

import "errors"

// ErrKind classifies engine errors: transport (retryable), parse
// (manifest/queue load corruption — rebuild from scratch), invariant
// (log and crash the processor task), policy (forbidden path, duplicate
// destination — surface to caller), not-found (success for Remove, fault
// for Get/Move).
type ErrKind int

const (
	ErrKindTransport ErrKind = iota
	ErrKindParse
	ErrKindInvariant
	ErrKindPolicy
	ErrKindNotFound
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindTransport:
		return "transport"
	case ErrKindParse:
		return "parse"
	case ErrKindInvariant:
		return "invariant"
	case ErrKindPolicy:
		return "policy"
	case ErrKindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// KindError wraps an error with its ErrKind so callers can branch with
// errors.As instead of string matching.
type KindError struct {
	Kind ErrKind
	Err  error
}

func (e *KindError) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err with kind. Returns nil if err is nil.
func NewKindError(kind ErrKind, err error) error {
	if err == nil {
		return nil
	}

	return &KindError{Kind: kind, Err: err}
}

// Is reports whether err carries kind, via errors.As.
func Is(err error, kind ErrKind) bool {
	var ke *KindError

	return errors.As(err, &ke) && ke.Kind == kind
}

// ErrPolicyForbiddenPath is returned when a destination path violates the
// downstream-only prefix policy.
var ErrPolicyForbiddenPath = errors.New("engine: path forbidden by downstream-only policy")

// ErrPolicyDuplicateDestination is returned when a move's destination
// already has an occupant.
var ErrPolicyDuplicateDestination = errors.New("engine: duplicate destination in move target")
