package biosecure

import (
	"crypto/rand"
	"errors"
	"io"
	"runtime"

	"github.com/rs/zerolog"
)

// Preference entries owned by the library
const (
	// ApplicationKeyEntry holds the hex-encoded wrapped application key
	ApplicationKeyEntry = "ApplicationKey"

	// KeyStoreIVEntry holds the hex-encoded nonce of the symmetric wrap
	KeyStoreIVEntry = "KeyStoreIV"
)

// Master key aliases
const (
	SymmetricMasterKeyAlias  = "SYMMETRIC_MASTER_KEY"
	AsymmetricMasterKeyAlias = "ASYMMETRIC_MASTER_KEY"
)

// KeyAlgorithm selects how the application key is wrapped by the master key
type KeyAlgorithm uint8

const (
	// AlgorithmSymmetric wraps with an AES-256-GCM master key
	AlgorithmSymmetric KeyAlgorithm = iota
	// AlgorithmAsymmetric wraps with ECIES to a P-256 master key pair
	AlgorithmAsymmetric
)

// String returns the string representation of the key algorithm
func (a KeyAlgorithm) String() string {
	switch a {
	case AlgorithmSymmetric:
		return "symmetric"
	case AlgorithmAsymmetric:
		return "asymmetric"
	default:
		return "unknown"
	}
}

// ParseKeyAlgorithm parses the names returned by KeyAlgorithm.String
func ParseKeyAlgorithm(s string) (KeyAlgorithm, error) {
	switch s {
	case "", "symmetric", "aes-gcm":
		return AlgorithmSymmetric, nil
	case "asymmetric", "ecies":
		return AlgorithmAsymmetric, nil
	default:
		return 0, NewValidationError("algorithm", s, "unsupported key algorithm")
	}
}

// Direction is the operation a WrappingCipher is bound to
type Direction uint8

const (
	DirectionWrap Direction = iota
	DirectionUnwrap
	DirectionSign
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirectionWrap:
		return "wrap"
	case DirectionUnwrap:
		return "unwrap"
	case DirectionSign:
		return "sign"
	default:
		return "unknown"
	}
}

// KeyPurpose is a set of operations a master key may be used for
type KeyPurpose uint8

const (
	PurposeEncrypt KeyPurpose = 1 << iota
	PurposeSign
)

// Has reports whether p includes all of q
func (p KeyPurpose) Has(q KeyPurpose) bool {
	return p&q == q
}

// KeySpec describes a master key to be generated by a Keystore
type KeySpec struct {
	Alias     string
	Algorithm KeyAlgorithm
	Purpose   KeyPurpose

	// UserAuthenticationRequired demands an authenticated prompt before any
	// private or secret key use
	UserAuthenticationRequired bool

	// InvalidatedByBiometricEnrollment makes the key permanently unusable
	// once the enrolled biometric set changes
	InvalidatedByBiometricEnrollment bool

	// UnlockedDeviceRequired limits use to an unlocked device
	UnlockedDeviceRequired bool

	// HardwareIsolated requests a discrete secure element when available
	HardwareIsolated bool
}

// PromptConfig carries the texts shown by the platform authenticator
type PromptConfig struct {
	Title       string
	Subtitle    string
	Description string
	CancelText  string
}

// BiometryType names the kind of authenticator available
type BiometryType string

const (
	BiometryNone        BiometryType = ""
	BiometryBiometrics  BiometryType = "Biometrics"
	BiometryFingerprint BiometryType = "TouchID"
	BiometryFace        BiometryType = "FaceID"
	BiometryPasscode    BiometryType = "Passcode"
)

// AvailabilityCode explains why biometrics are unavailable
type AvailabilityCode string

const (
	AvailabilityOK            AvailabilityCode = ""
	AvailabilityNoHardware    AvailabilityCode = "BIOMETRIC_ERROR_NO_HARDWARE"
	AvailabilityHWUnavailable AvailabilityCode = "BIOMETRIC_ERROR_HW_UNAVAILABLE"
	AvailabilityNoneEnrolled  AvailabilityCode = "BIOMETRIC_ERROR_NONE_ENROLLED"
	AvailabilityUnsupported   AvailabilityCode = "BIOMETRIC_UNSUPPORTED"
	AvailabilityLockout       AvailabilityCode = "BIOMETRIC_ERROR_LOCKOUT"
)

// Availability is the result of probing the authenticator
type Availability struct {
	Available bool
	Type      BiometryType
	Error     AvailabilityCode
}

// Config contains configuration for Storage
type Config struct {
	// Keystore holds the master keys
	Keystore Keystore

	// Authenticator presents the biometric prompt
	Authenticator Authenticator

	// Preferences stores the wrapped key, the wrap nonce and string entries
	Preferences BytesStore

	// Files stores encrypted files
	Files BytesStore

	// Algorithm selects the wrapping scheme for the application key
	Algorithm KeyAlgorithm

	// Workers bounds the crypto worker pool. Defaults to runtime.NumCPU()
	Workers int

	// MaxPendingAuthentications bounds callers waiting for the gate. Defaults to 4
	MaxPendingAuthentications int

	// UnlockedDeviceRequired is requested on generated master keys
	UnlockedDeviceRequired bool

	// HardwareIsolated is requested on generated master keys
	HardwareIsolated bool

	// ResetOnInvalidation regenerates all key material when the keystore
	// reports an invalidated master key. The error is still returned.
	ResetOnInvalidation bool

	// Rand is the secure random source. Defaults to crypto/rand.Reader
	Rand io.Reader

	// Logger receives lifecycle events. Defaults to a disabled logger
	Logger *zerolog.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.Keystore == nil {
		return errors.New("keystore cannot be nil")
	}
	if c.Authenticator == nil {
		return errors.New("authenticator cannot be nil")
	}
	if c.Preferences == nil {
		return errors.New("preferences store cannot be nil")
	}
	if c.Files == nil {
		return errors.New("file store cannot be nil")
	}
	if c.Algorithm != AlgorithmSymmetric && c.Algorithm != AlgorithmAsymmetric {
		return errors.New("unsupported key algorithm")
	}
	if err := ValidateSize(c.Workers, "workers", 0, 1024); err != nil {
		return err
	}
	if err := ValidateSize(c.MaxPendingAuthentications, "max_pending_authentications", 0, 1024); err != nil {
		return err
	}
	return nil
}

// withDefaults returns a copy of c with zero values replaced by defaults
func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.MaxPendingAuthentications == 0 {
		c.MaxPendingAuthentications = 4
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
