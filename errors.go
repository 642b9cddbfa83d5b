package biosecure

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ValidationError represents a configuration or parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EncryptionError represents a failure of the cipher provider itself, as
// opposed to an integrity failure of the data being decrypted.
type EncryptionError struct {
	Operation string // "encrypt", "decrypt", "wrap", "unwrap" or "sign"
	ID        string // Entry identifier or file path, if applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *EncryptionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Operation, e.ID, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Operation, e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// IOError represents a failure of a byte store backend. The backend error is
// kept as-is and reachable through Unwrap.
type IOError struct {
	Operation string // "get", "put" or "delete"
	ID        string // Entry identifier or file path
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.ID, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CorruptionError represents persisted data that cannot be parsed at all
type CorruptionError struct {
	ID      string // Entry identifier or file path
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *CorruptionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.ID, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents a terminal error of an authentication
// session: lockout, cancellation or an authenticator fault.
type AuthenticationError struct {
	Reason  string // Reason reported by the authenticator
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *AuthenticationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authentication error: %s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// CapabilityError reports that biometric authentication cannot be attempted
// on this device at all.
type CapabilityError struct {
	Code AvailabilityCode
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("biometrics unavailable: %s", e.Code)
}

func (e *CapabilityError) Unwrap() error {
	return ErrCapabilityUnavailable
}

// KeyUnwrapError reports that a persisted application key could not be
// unwrapped with an authenticated cipher.
type KeyUnwrapError struct {
	Alias string // Master key alias used for the unwrap
	Err   error  // Underlying error
}

func (e *KeyUnwrapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("application key unwrap failed (master key %s): %v", e.Alias, e.Err)
	}
	return fmt.Sprintf("application key unwrap failed (master key %s)", e.Alias)
}

func (e *KeyUnwrapError) Unwrap() error {
	return e.Err
}

// Is makes every KeyUnwrapError match ErrKeyUnwrap.
func (e *KeyUnwrapError) Is(target error) bool {
	return target == ErrKeyUnwrap
}

// Common sentinel errors
var (
	ErrCapabilityUnavailable  = errors.New("biometric authentication unavailable")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrAuthenticationCanceled = errors.New("authentication canceled")
	ErrLockout                = errors.New("authentication locked out after too many attempts")
	ErrKeyInvalidated         = errors.New("master key permanently invalidated")
	ErrKeyStoreUnavailable    = errors.New("master key not available in keystore")
	ErrKeyUnwrap              = errors.New("application key unwrap failed")
	ErrAuthFailed             = errors.New("authentication tag mismatch - data may be corrupted or tampered")
	ErrNotUnlocked            = errors.New("application key not loaded")
	ErrNotFound               = errors.New("entry not found")
	ErrCipherConsumed         = errors.New("wrapping cipher already used")
	ErrNotAuthenticated       = errors.New("wrapping cipher not authenticated")
	ErrWrongDirection         = errors.New("wrapping cipher has the wrong direction")
	ErrGateBusy               = errors.New("too many pending authentications")
	ErrCiphertextTooShort     = errors.New("ciphertext shorter than nonce")
	ErrInvalidKey             = errors.New("invalid encryption key")
	ErrNilConfig              = errors.New("config cannot be nil")
	ErrClosed                 = errors.New("storage closed")
)

// Helper functions for creating structured errors

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewEncryptionError creates a new encryption error
func NewEncryptionError(operation, id string, err error) error {
	return &EncryptionError{
		Operation: operation,
		ID:        id,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, id string, err error) error {
	return &IOError{
		Operation: operation,
		ID:        id,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewCorruptionError creates a new corruption error
func NewCorruptionError(id string, err error) error {
	return &CorruptionError{
		ID:      id,
		Message: err.Error(),
		Err:     err,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(reason string, err error) error {
	return &AuthenticationError{
		Reason:  reason,
		Message: err.Error(),
		Err:     err,
	}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEncryptionError checks if an error is an encryption error
func IsEncryptionError(err error) bool {
	var ee *EncryptionError
	return errors.As(err, &ee)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsNotFound checks if an error reports a missing entry
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCapabilityError checks if an error is a capability error
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// ErrorKind classifies errors returned across the Storage API.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindCapabilityUnavailable
	KindAuthenticationFailed
	KindAuthenticationCanceled
	KindLockout
	KindAuthenticationError
	KindKeyInvalidated
	KindKeyStoreUnavailable
	KindKeyUnwrap
	KindAuthenticationTag
	KindNotUnlocked
	KindNotFound
	KindStorageIO
	KindCrypto
	KindGateBusy
	KindClosed
	KindUnknown
)

// String returns the string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindCapabilityUnavailable:
		return "CapabilityUnavailable"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindAuthenticationCanceled:
		return "AuthenticationCanceled"
	case KindLockout:
		return "Lockout"
	case KindAuthenticationError:
		return "AuthenticationError"
	case KindKeyInvalidated:
		return "KeyInvalidated"
	case KindKeyStoreUnavailable:
		return "KeyStoreUnavailable"
	case KindKeyUnwrap:
		return "KeyUnwrapError"
	case KindAuthenticationTag:
		return "AuthenticationTagError"
	case KindNotUnlocked:
		return "NotUnlocked"
	case KindNotFound:
		return "NotFound"
	case KindStorageIO:
		return "StorageIOError"
	case KindCrypto:
		return "CryptoError"
	case KindGateBusy:
		return "GateBusy"
	case KindClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// KindOf returns the kind of err. A nil error is KindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrKeyInvalidated):
		return KindKeyInvalidated
	case errors.Is(err, ErrCapabilityUnavailable):
		return KindCapabilityUnavailable
	case errors.Is(err, ErrAuthenticationCanceled):
		return KindAuthenticationCanceled
	case errors.Is(err, ErrLockout):
		return KindLockout
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case IsAuthenticationError(err):
		return KindAuthenticationError
	case errors.Is(err, ErrKeyUnwrap):
		return KindKeyUnwrap
	case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrCiphertextTooShort), IsCorruptionError(err):
		return KindAuthenticationTag
	case errors.Is(err, ErrNotUnlocked):
		return KindNotUnlocked
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrKeyStoreUnavailable):
		return KindKeyStoreUnavailable
	case errors.Is(err, ErrGateBusy):
		return KindGateBusy
	case errors.Is(err, ErrClosed):
		return KindClosed
	case IsIOError(err):
		return KindStorageIO
	case IsEncryptionError(err), IsValidationError(err),
		errors.Is(err, ErrWrongDirection), errors.Is(err, ErrCipherConsumed), errors.Is(err, ErrNotAuthenticated):
		return KindCrypto
	default:
		return KindUnknown
	}
}
