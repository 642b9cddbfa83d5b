package biosecure

import "context"

// Authenticator is the platform capability that presents the biometric
// prompt. A successful ceremony must hand back the cipher it was given,
// authorized by the same ceremony.
type Authenticator interface {
	// Availability reports whether a prompt can be presented at all
	Availability(ctx context.Context) (Availability, error)

	// Present shows the prompt and blocks until it resolves or ctx ends
	Present(ctx context.Context, prompt PromptConfig, cipher HardwareCipher) Outcome
}

// OutcomeStatus is the terminal result of a prompt
type OutcomeStatus uint8

const (
	OutcomeSucceeded OutcomeStatus = iota
	OutcomeFailed
	OutcomeError
	OutcomeInvalidated
)

// String returns the string representation of the outcome status
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeError:
		return "error"
	case OutcomeInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Outcome is what an Authenticator reports for one prompt
type Outcome struct {
	Status OutcomeStatus

	// Cipher is the authorized cipher, set only on success
	Cipher HardwareCipher

	// Reason is a short machine-readable cause for failures and errors
	Reason string

	// Err carries the cause of an error outcome, e.g. ErrLockout
	Err error
}

// Succeeded returns a success outcome carrying the authorized cipher
func Succeeded(cipher HardwareCipher) Outcome {
	return Outcome{Status: OutcomeSucceeded, Cipher: cipher}
}

// Failed returns a retryable failure outcome
func Failed(reason string) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason}
}

// Errored returns a terminal error outcome
func Errored(reason string, err error) Outcome {
	return Outcome{Status: OutcomeError, Reason: reason, Err: err}
}

// Invalidated returns the outcome for a permanently invalidated key
func Invalidated() Outcome {
	return Outcome{Status: OutcomeInvalidated, Reason: "key invalidated", Err: ErrKeyInvalidated}
}
