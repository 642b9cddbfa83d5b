package biosecure

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/time/rate"
)

const (
	enrollmentEntry = "enrollment"
	keyEntryPrefix  = "key/"
)

// Software device errors
var (
	ErrAlreadyEnrolled = errors.New("device already enrolled")
	ErrNotEnrolled     = errors.New("device not enrolled")
)

// PasscodeFunc asks the user for the passcode. Returning
// ErrAuthenticationCanceled, or any error once ctx is done, cancels the
// ceremony.
type PasscodeFunc func(ctx context.Context, prompt PromptConfig) (string, error)

// DeviceOptions configures a SoftwareDevice
type DeviceOptions struct {
	// Store persists enrollment and key records
	Store BytesStore

	// Prompt collects the passcode during Present
	Prompt PasscodeFunc

	// MaxAttempts is the number of failed attempts allowed within
	// LockoutPeriod before the device locks out. Defaults to 5
	MaxAttempts int

	// LockoutPeriod is how long it takes to regain all attempts. Defaults to 30s
	LockoutPeriod time.Duration

	// Argon2 sets the passcode derivation cost of new enrollments
	Argon2 Argon2idParams

	// Biometry is the authenticator type reported by Availability
	Biometry BiometryType

	// Rand is the secure random source. Defaults to crypto/rand.Reader
	Rand io.Reader

	// Clock returns the current time. Defaults to time.Now
	Clock func() time.Time

	// Logger receives device events. Defaults to a disabled logger
	Logger *zerolog.Logger
}

// SoftwareDevice is a software secure element implementing both Keystore
// and Authenticator. Master keys are sealed to an enrollment key pair whose
// private half only a correct passcode can unseal, so every use of a master
// key requires a successful Present.
type SoftwareDevice struct {
	store    BytesStore
	prompt   PasscodeFunc
	params   Argon2idParams
	biometry BiometryType
	rand     io.Reader
	now      func() time.Time
	logger   zerolog.Logger

	maxAttempts int
	period      time.Duration

	hardware atomic.Bool

	// mu guards limiter and serializes record updates
	mu      sync.Mutex
	limiter *rate.Limiter
}

var (
	_ Keystore      = (*SoftwareDevice)(nil)
	_ Authenticator = (*SoftwareDevice)(nil)
)

// NewSoftwareDevice creates a software device over opts.Store
func NewSoftwareDevice(opts DeviceOptions) (*SoftwareDevice, error) {
	if opts.Store == nil {
		return nil, errors.New("device store cannot be nil")
	}
	if opts.MaxAttempts < 0 {
		return nil, NewValidationError("max_attempts", opts.MaxAttempts, "cannot be negative")
	}
	if opts.LockoutPeriod < 0 {
		return nil, NewValidationError("lockout_period", opts.LockoutPeriod, "cannot be negative")
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.LockoutPeriod == 0 {
		opts.LockoutPeriod = 30 * time.Second
	}
	if opts.Biometry == BiometryNone {
		opts.Biometry = BiometryBiometrics
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	d := &SoftwareDevice{
		store:       opts.Store,
		prompt:      opts.Prompt,
		params:      opts.Argon2.withDefaults(),
		biometry:    opts.Biometry,
		rand:        opts.Rand,
		now:         opts.Clock,
		logger:      logger.With().Str("component", "device").Logger(),
		maxAttempts: opts.MaxAttempts,
		period:      opts.LockoutPeriod,
	}
	d.hardware.Store(true)
	d.limiter = d.newLimiter()
	return d, nil
}

func (d *SoftwareDevice) newLimiter() *rate.Limiter {
	every := d.period / time.Duration(d.maxAttempts)
	return rate.NewLimiter(rate.Every(every), d.maxAttempts)
}

// SetHardwarePresent emulates the authenticator hardware appearing or
// disappearing.
func (d *SoftwareDevice) SetHardwarePresent(present bool) {
	d.hardware.Store(present)
}

// SetPrompt replaces the passcode prompt
func (d *SoftwareDevice) SetPrompt(prompt PasscodeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompt = prompt
}

func (d *SoftwareDevice) lockedOut() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limiter.TokensAt(d.now()) < 1
}

// registerFailure consumes one attempt and reports whether any remain
func (d *SoftwareDevice) registerFailure() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limiter.AllowN(d.now(), 1)
	return d.limiter.TokensAt(d.now()) >= 1
}

func (d *SoftwareDevice) resetAttempts() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limiter = d.newLimiter()
}

func (d *SoftwareDevice) enrollment(ctx context.Context) (*enrollmentRecord, error) {
	data, err := d.store.Get(ctx, enrollmentEntry)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	e, err := unmarshalEnrollment(data)
	if err != nil {
		return nil, NewCorruptionError(enrollmentEntry, err)
	}
	return e, nil
}

// Enrolled reports whether an authenticator is enrolled
func (d *SoftwareDevice) Enrolled(ctx context.Context) (bool, error) {
	_, err := d.enrollment(ctx)
	if errors.Is(err, ErrNotEnrolled) {
		return false, nil
	}
	return err == nil, err
}

// Generation returns the current enrollment generation, 0 when not enrolled
func (d *SoftwareDevice) Generation(ctx context.Context) (uint32, error) {
	e, err := d.enrollment(ctx)
	if errors.Is(err, ErrNotEnrolled) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.Generation, nil
}

// Enroll enrolls the first authenticator with passcode
func (d *SoftwareDevice) Enroll(ctx context.Context, passcode string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.enrollment(ctx); err == nil {
		return ErrAlreadyEnrolled
	} else if !errors.Is(err, ErrNotEnrolled) {
		return err
	}

	priv, err := d.writeEnrollment(ctx, passcode, 1)
	if err != nil {
		return err
	}
	memguard.WipeBytes(priv)

	d.limiter = d.newLimiter()
	d.logger.Info().Uint32("generation", 1).Msg("enrolled")
	return nil
}

// Reenroll replaces the enrollment after verifying the current passcode.
// Keys created with InvalidatedByBiometricEnrollment become permanently
// unusable; other keys are resealed to the new enrollment.
func (d *SoftwareDevice) Reenroll(ctx context.Context, current, next string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	old, err := d.enrollment(ctx)
	if err != nil {
		return err
	}
	oldPriv, err := newPasscodeKey(old.Params).Open([]byte(current), old.Salt, old.SealedKey)
	if err != nil {
		return fmt.Errorf("%w: passcode mismatch", ErrAuthenticationFailed)
	}
	defer memguard.WipeBytes(oldPriv)

	newPriv, err := d.writeEnrollment(ctx, next, old.Generation+1)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(newPriv)

	newPub, err := curve25519Public(newPriv)
	if err != nil {
		return err
	}
	if err := d.resealKeys(ctx, old.Generation, oldPriv, newPub, old.Generation+1); err != nil {
		return err
	}

	d.limiter = d.newLimiter()
	d.logger.Info().Uint32("generation", old.Generation+1).Msg("re-enrolled")
	return nil
}

// writeEnrollment creates and persists a new enrollment key pair and
// returns its private key.
func (d *SoftwareDevice) writeEnrollment(ctx context.Context, passcode string, generation uint32) ([]byte, error) {
	if passcode == "" {
		return nil, NewValidationError("passcode", nil, "passcode cannot be empty")
	}

	priv, pub, err := generateX25519(d.rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment key: %w", err)
	}

	pk := newPasscodeKey(d.params)
	salt, err := pk.GenerateSalt(d.rand)
	if err != nil {
		memguard.WipeBytes(priv)
		return nil, err
	}
	sealed, err := pk.Seal(d.rand, []byte(passcode), salt, priv)
	if err != nil {
		memguard.WipeBytes(priv)
		return nil, err
	}

	rec := &enrollmentRecord{
		Generation: generation,
		Params:     d.params,
		Salt:       salt,
		PublicKey:  pub,
		SealedKey:  sealed,
	}
	data, err := rec.marshal()
	if err != nil {
		memguard.WipeBytes(priv)
		return nil, err
	}
	if err := d.store.Put(ctx, enrollmentEntry, data); err != nil {
		memguard.WipeBytes(priv)
		return nil, err
	}
	return priv, nil
}

// resealKeys moves keys that survive re-enrollment to the new enrollment
func (d *SoftwareDevice) resealKeys(ctx context.Context, oldGen uint32, oldPriv, newPub []byte, newGen uint32) error {
	lister, ok := d.store.(Lister)
	if !ok {
		return nil
	}
	ids, err := lister.List(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if len(id) <= len(keyEntryPrefix) || id[:len(keyEntryPrefix)] != keyEntryPrefix {
			continue
		}
		rec, err := d.keyRecord(ctx, id[len(keyEntryPrefix):])
		if err != nil {
			return err
		}
		if rec.Flags&flagInvalidatedByEnrollment != 0 || rec.Generation != oldGen {
			continue
		}

		material, err := openFromX25519(oldPriv, rec.Sealed)
		if err != nil {
			return fmt.Errorf("failed to unseal %s: %w", rec.Alias, err)
		}
		rec.Sealed, err = sealToX25519(d.rand, newPub, material)
		memguard.WipeBytes(material)
		if err != nil {
			return err
		}
		rec.Generation = newGen
		if err := d.putKeyRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (d *SoftwareDevice) keyRecord(ctx context.Context, alias string) (*keyRecord, error) {
	data, err := d.store.Get(ctx, keyEntryPrefix+alias)
	if err != nil {
		return nil, err
	}
	rec, err := unmarshalKey(data)
	if err != nil {
		return nil, NewCorruptionError(keyEntryPrefix+alias, err)
	}
	return rec, nil
}

func (d *SoftwareDevice) putKeyRecord(ctx context.Context, rec *keyRecord) error {
	data, err := rec.marshal()
	if err != nil {
		return err
	}
	return d.store.Put(ctx, keyEntryPrefix+rec.Alias, data)
}

// Contains reports whether a key exists under alias
func (d *SoftwareDevice) Contains(ctx context.Context, alias string) (bool, error) {
	_, err := d.store.Get(ctx, keyEntryPrefix+alias)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Generate creates a key sealed to the current enrollment
func (d *SoftwareDevice) Generate(ctx context.Context, spec KeySpec) error {
	if spec.Alias == "" {
		return NewValidationError("alias", nil, "alias cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.enrollment(ctx)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return &CapabilityError{Code: AvailabilityNoneEnrolled}
		}
		return err
	}

	rec := &keyRecord{
		Alias:      spec.Alias,
		Algorithm:  spec.Algorithm,
		Purpose:    spec.Purpose,
		Generation: e.Generation,
	}
	if spec.InvalidatedByBiometricEnrollment {
		rec.Flags |= flagInvalidatedByEnrollment
	}
	if spec.UserAuthenticationRequired {
		rec.Flags |= flagUserAuthentication
	}
	if spec.UnlockedDeviceRequired {
		rec.Flags |= flagUnlockedDevice
	}
	if spec.HardwareIsolated {
		rec.Flags |= flagHardwareIsolated
	}

	var material []byte
	switch spec.Algorithm {
	case AlgorithmSymmetric:
		material = make([]byte, KeySize)
		if _, err := io.ReadFull(d.rand, material); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
	case AlgorithmAsymmetric:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), d.rand)
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}
		if material, err = x509.MarshalECPrivateKey(priv); err != nil {
			return err
		}
		if rec.PublicKey, err = x509.MarshalPKIXPublicKey(&priv.PublicKey); err != nil {
			return err
		}
	default:
		return NewValidationError("algorithm", spec.Algorithm, "unsupported key algorithm")
	}
	defer memguard.WipeBytes(material)

	if rec.Sealed, err = sealToX25519(d.rand, e.PublicKey, material); err != nil {
		return err
	}
	if err := d.putKeyRecord(ctx, rec); err != nil {
		return err
	}

	d.logger.Debug().Str("alias", spec.Alias).Str("algorithm", spec.Algorithm.String()).Msg("key generated")
	return nil
}

// Delete removes the key under alias
func (d *SoftwareDevice) Delete(ctx context.Context, alias string) error {
	return deleteIfPresent(ctx, d.store, keyEntryPrefix+alias)
}

// Cipher returns an unauthorized cipher for the key under alias
func (d *SoftwareDevice) Cipher(ctx context.Context, alias string, dir Direction, nonce []byte) (HardwareCipher, error) {
	rec, err := d.keyRecord(ctx, alias)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyStoreUnavailable, alias)
		}
		return nil, err
	}
	if err := d.checkValid(ctx, rec); err != nil {
		return nil, err
	}

	switch dir {
	case DirectionWrap, DirectionUnwrap:
		if !rec.Purpose.Has(PurposeEncrypt) {
			return nil, ErrWrongDirection
		}
	case DirectionSign:
		if !rec.Purpose.Has(PurposeSign) || rec.Algorithm != AlgorithmAsymmetric {
			return nil, ErrWrongDirection
		}
	default:
		return nil, ErrWrongDirection
	}

	if rec.Algorithm == AlgorithmSymmetric {
		if err := ValidateNonce(nonce, NonceSize); err != nil {
			return nil, err
		}
		nonce = append([]byte(nil), nonce...)
	} else {
		nonce = nil
	}

	return &softCipher{
		device: d,
		record: rec,
		dir:    dir,
		nonce:  nonce,
		rand:   d.rand,
	}, nil
}

// checkValid reports ErrKeyInvalidated for keys that did not survive an
// enrollment change.
func (d *SoftwareDevice) checkValid(ctx context.Context, rec *keyRecord) error {
	e, err := d.enrollment(ctx)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return ErrKeyInvalidated
		}
		return err
	}
	if rec.Generation != e.Generation {
		return fmt.Errorf("%w: %s", ErrKeyInvalidated, rec.Alias)
	}
	return nil
}

// PublicKey returns the ECDSA public key under alias
func (d *SoftwareDevice) PublicKey(ctx context.Context, alias string) (crypto.PublicKey, error) {
	rec, err := d.keyRecord(ctx, alias)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyStoreUnavailable, alias)
		}
		return nil, err
	}
	if rec.Algorithm != AlgorithmAsymmetric {
		return nil, NewValidationError("alias", alias, "not an asymmetric key")
	}
	return x509.ParsePKIXPublicKey(rec.PublicKey)
}

// SupportsSigning reports that P-256 signing keys are available
func (d *SoftwareDevice) SupportsSigning() bool {
	return true
}

// Availability reports whether Present can run. A failure to read the
// enrollment is returned as is.
func (d *SoftwareDevice) Availability(ctx context.Context) (Availability, error) {
	if !d.hardware.Load() {
		return Availability{Error: AvailabilityNoHardware}, nil
	}

	enrolled, err := d.Enrolled(ctx)
	if err != nil {
		return Availability{Error: AvailabilityHWUnavailable}, err
	}
	if !enrolled {
		return Availability{Error: AvailabilityNoneEnrolled}, nil
	}
	if d.lockedOut() {
		return Availability{Type: d.biometry, Error: AvailabilityLockout}, nil
	}
	return Availability{Available: true, Type: d.biometry}, nil
}

// Present asks for the passcode and, if it unseals the enrollment key,
// authorizes cipher.
func (d *SoftwareDevice) Present(ctx context.Context, prompt PromptConfig, cipher HardwareCipher) Outcome {
	sc, ok := cipher.(*softCipher)
	if !ok || sc.device != d {
		return Errored("foreign cipher", errors.New("cipher was not issued by this device"))
	}
	if !d.hardware.Load() {
		return Errored("hardware unavailable", &CapabilityError{Code: AvailabilityHWUnavailable})
	}
	if d.lockedOut() {
		return Errored("lockout", ErrLockout)
	}

	d.mu.Lock()
	ask := d.prompt
	d.mu.Unlock()
	if ask == nil {
		return Errored("no prompt", errors.New("device has no passcode prompt"))
	}

	passcode, err := ask(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrAuthenticationCanceled) {
			return Errored("cancelled", ErrAuthenticationCanceled)
		}
		return Errored("prompt", err)
	}

	e, err := d.enrollment(ctx)
	if err != nil {
		return Errored("hardware", err)
	}
	if sc.record.Generation != e.Generation {
		return Invalidated()
	}

	priv, err := newPasscodeKey(e.Params).Open([]byte(passcode), e.Salt, e.SealedKey)
	if err != nil {
		if !d.registerFailure() {
			d.logger.Warn().Msg("too many failed attempts, locked out")
			return Errored("lockout", ErrLockout)
		}
		return Failed("passcode mismatch")
	}
	defer memguard.WipeBytes(priv)

	if err := sc.authorize(priv); err != nil {
		return Errored("hardware", err)
	}

	d.resetAttempts()
	return Succeeded(sc)
}

func curve25519Public(priv []byte) ([]byte, error) {
	return curve25519.X25519(priv, curve25519.Basepoint)
}
