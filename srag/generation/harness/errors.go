package harness

import (
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

// Sentinel errors for the fatal outcomes of a run. Tool execution problems are not
// errors; they are fed back to the model as text.
var (
	ErrPolicyViolation   = errors.New("policy violation")
	ErrStoreUnavailable  = store.ErrUnavailable
	ErrUpstreamProvider  = ports.ErrUpstreamProvider
	ErrTurnLimitExceeded = errors.New("turn limit exceeded")
)

// Kind classifies a failed run.
type Kind int

const (
	KindInternal Kind = iota
	KindPolicyViolation
	KindStoreUnavailable
	KindUpstreamProvider
	KindTurnLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case KindPolicyViolation:
		return "PolicyViolation"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindUpstreamProvider:
		return "UpstreamProviderError"
	case KindTurnLimitExceeded:
		return "TurnLimitExceeded"
	default:
		return "InternalError"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindPolicyViolation:
		return ErrPolicyViolation
	case KindStoreUnavailable:
		return ErrStoreUnavailable
	case KindUpstreamProvider:
		return ErrUpstreamProvider
	case KindTurnLimitExceeded:
		return ErrTurnLimitExceeded
	default:
		return nil
	}
}

// RunError is the single failure reported for a run.
type RunError struct {
	Kind   Kind
	Reason string
	State  State // state the run was in when it failed
	Err    error // underlying cause, if any
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *RunError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *RunError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrUpstreamProvider):
		return KindUpstreamProvider
	default:
		return KindInternal
	}
}
