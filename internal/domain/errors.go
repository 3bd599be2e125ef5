package domain

import "errors"

// Error kinds every collaborator failure is translated into before it
// reaches the renderer. Raw transport errors never cross the gate boundary.
var (
	ErrAuth       = errors.New("authentication rejected")
	ErrNetwork    = errors.New("network failure")
	ErrServer     = errors.New("server failure")
	ErrValidation = errors.New("invalid input")
	ErrGated      = errors.New("chat access blocked")
)

// Kind enumerates the error taxonomy for callers that switch on failure class.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindNetwork
	KindServer
	KindValidation
	KindGated
)

// Classify maps a wrapped error onto its taxonomy kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrServer):
		return KindServer
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrGated):
		return KindGated
	default:
		return KindUnknown
	}
}

// Retryable reports whether the failure may succeed on a retry with the
// same inputs. Auth failures never are: they require a fresh sign-in.
func Retryable(err error) bool {
	k := Classify(err)
	return k == KindNetwork || k == KindServer
}
