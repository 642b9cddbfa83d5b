package biosecure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &ValidationError{
				Field:   "workers",
				Value:   -1,
				Message: "size cannot be negative",
			},
			wantMsg: "validation error: workers: size cannot be negative",
		},
		{
			name: "without field",
			err: &ValidationError{
				Message: "invalid configuration",
			},
			wantMsg: "validation error: invalid configuration",
		},
		{
			name: "with wrapped error",
			err: &ValidationError{
				Field:   "key",
				Message: "invalid key",
				Err:     ErrInvalidKey,
			},
			wantMsg: "validation error: key: invalid key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
			if tt.err.Err != nil {
				if unwrapped := tt.err.Unwrap(); unwrapped != tt.err.Err {
					t.Errorf("ValidationError.Unwrap() = %v, want %v", unwrapped, tt.err.Err)
				}
			}
		})
	}
}

func TestEncryptionError(t *testing.T) {
	baseErr := errors.New("cipher: message authentication failed")

	tests := []struct {
		name    string
		err     *EncryptionError
		wantMsg string
	}{
		{
			name: "with id",
			err: &EncryptionError{
				Operation: "wrap",
				ID:        SymmetricMasterKeyAlias,
				Message:   "provider failed",
				Err:       baseErr,
			},
			wantMsg: "wrap error: SYMMETRIC_MASTER_KEY: provider failed",
		},
		{
			name: "minimal",
			err: &EncryptionError{
				Operation: "encrypt",
				Message:   "invalid key",
			},
			wantMsg: "encrypt error: invalid key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("EncryptionError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestIOError(t *testing.T) {
	baseErr := errors.New("disk full")

	err := NewIOError("put", "token", baseErr)
	if got, want := err.Error(), "io error: put token: disk full"; got != want {
		t.Errorf("IOError.Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, baseErr) {
		t.Error("IOError should unwrap to the backend error unmodified")
	}

	noID := &IOError{Operation: "list", Message: "closed"}
	if got, want := noID.Error(), "io error: list: closed"; got != want {
		t.Errorf("IOError.Error() = %q, want %q", got, want)
	}
}

func TestCorruptionError(t *testing.T) {
	tests := []struct {
		name    string
		err     *CorruptionError
		wantMsg string
	}{
		{
			name: "with id",
			err: &CorruptionError{
				ID:      "token",
				Message: "illegal base64 data",
			},
			wantMsg: "corruption error: token: illegal base64 data",
		},
		{
			name: "generic",
			err: &CorruptionError{
				Message: "data tampering detected",
			},
			wantMsg: "corruption error: data tampering detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("CorruptionError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestAuthenticationError(t *testing.T) {
	err := NewAuthenticationError("lockout", ErrLockout)
	if got, want := err.Error(), "authentication error: lockout: "+ErrLockout.Error(); got != want {
		t.Errorf("AuthenticationError.Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrLockout) {
		t.Error("AuthenticationError should unwrap to its cause")
	}
	if !IsAuthenticationError(err) {
		t.Error("IsAuthenticationError() = false, want true")
	}
}

func TestCapabilityError(t *testing.T) {
	err := &CapabilityError{Code: AvailabilityNoneEnrolled}
	if got, want := err.Error(), "biometrics unavailable: BIOMETRIC_ERROR_NONE_ENROLLED"; got != want {
		t.Errorf("CapabilityError.Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Error("CapabilityError should match ErrCapabilityUnavailable")
	}
	if !IsCapabilityError(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsCapabilityError() = false for wrapped error")
	}
}

func TestKeyUnwrapError(t *testing.T) {
	err := &KeyUnwrapError{Alias: SymmetricMasterKeyAlias, Err: ErrAuthFailed}

	if !errors.Is(err, ErrKeyUnwrap) {
		t.Error("KeyUnwrapError should match ErrKeyUnwrap")
	}
	if !errors.Is(err, ErrAuthFailed) {
		t.Error("KeyUnwrapError should unwrap to its cause")
	}
	if got := KindOf(err); got != KindKeyUnwrap {
		t.Errorf("KindOf() = %v, want %v", got, KindKeyUnwrap)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"capability", &CapabilityError{Code: AvailabilityNoHardware}, KindCapabilityUnavailable},
		{"failed", fmt.Errorf("%w: passcode mismatch", ErrAuthenticationFailed), KindAuthenticationFailed},
		{"canceled", canceled(context.Canceled), KindAuthenticationCanceled},
		{"lockout", NewAuthenticationError("lockout", ErrLockout), KindLockout},
		{"authenticator fault", NewAuthenticationError("hardware", errors.New("sensor")), KindAuthenticationError},
		{"invalidated", fmt.Errorf("%w: alias", ErrKeyInvalidated), KindKeyInvalidated},
		{"invalidated during unwrap", &KeyUnwrapError{Err: ErrKeyInvalidated}, KindKeyInvalidated},
		{"keystore", fmt.Errorf("%w: alias", ErrKeyStoreUnavailable), KindKeyStoreUnavailable},
		{"unwrap", &KeyUnwrapError{Err: ErrAuthFailed}, KindKeyUnwrap},
		{"tag", ErrAuthFailed, KindAuthenticationTag},
		{"too short", ErrCiphertextTooShort, KindAuthenticationTag},
		{"corruption", NewCorruptionError("token", errors.New("bad base64")), KindAuthenticationTag},
		{"not unlocked", ErrNotUnlocked, KindNotUnlocked},
		{"not found", ErrNotFound, KindNotFound},
		{"io", NewIOError("get", "token", errors.New("disk")), KindStorageIO},
		{"validation", NewValidationError("id", "", "empty"), KindCrypto},
		{"wrong direction", ErrWrongDirection, KindCrypto},
		{"cipher consumed", ErrCipherConsumed, KindCrypto},
		{"not authenticated", ErrNotAuthenticated, KindCrypto},
		{"gate busy", ErrGateBusy, KindGateBusy},
		{"closed", ErrClosed, KindClosed},
		{"unknown", errors.New("something else"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKindString(t *testing.T) {
	if got := KindAuthenticationTag.String(); got != "AuthenticationTagError" {
		t.Errorf("String() = %q", got)
	}
	if got := ErrorKind(200).String(); got != "Unknown" {
		t.Errorf("String() = %q", got)
	}
}
