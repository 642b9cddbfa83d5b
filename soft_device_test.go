package biosecure

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha512"
	"errors"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func symmetricSpec(alias string, invalidated bool) KeySpec {
	return KeySpec{
		Alias:                            alias,
		Algorithm:                        AlgorithmSymmetric,
		Purpose:                          PurposeEncrypt,
		UserAuthenticationRequired:       true,
		InvalidatedByBiometricEnrollment: invalidated,
	}
}

func asymmetricSpec(alias string) KeySpec {
	return KeySpec{
		Alias:                            alias,
		Algorithm:                        AlgorithmAsymmetric,
		Purpose:                          PurposeEncrypt | PurposeSign,
		UserAuthenticationRequired:       true,
		InvalidatedByBiometricEnrollment: true,
	}
}

// authorizedCipher obtains a cipher and runs it through Present
func authorizedCipher(t *testing.T, d *SoftwareDevice, alias string, dir Direction, nonce []byte) HardwareCipher {
	t.Helper()
	ctx := context.Background()

	hw, err := d.Cipher(ctx, alias, dir, nonce)
	if err != nil {
		t.Fatalf("Cipher(%s, %v) error = %v", alias, dir, err)
	}
	out := d.Present(ctx, PromptConfig{}, hw)
	if out.Status != OutcomeSucceeded {
		t.Fatalf("Present() = %v (%s, %v), want succeeded", out.Status, out.Reason, out.Err)
	}
	if out.Cipher != hw {
		t.Fatal("Present() must hand back the presented cipher")
	}
	return out.Cipher
}

func TestSoftwareDevice_Enrollment(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, staticPrompt(testPasscode), false)

	if ok, err := d.Enrolled(ctx); err != nil || ok {
		t.Errorf("Enrolled() = %v, %v; want false", ok, err)
	}
	if gen, _ := d.Generation(ctx); gen != 0 {
		t.Errorf("Generation() = %d, want 0", gen)
	}
	if err := d.Generate(ctx, symmetricSpec("k", true)); !IsCapabilityError(err) {
		t.Errorf("Generate() before enrollment error = %v, want CapabilityError", err)
	}
	if err := d.Enroll(ctx, ""); !IsValidationError(err) {
		t.Errorf("Enroll(\"\") error = %v, want ValidationError", err)
	}

	if err := d.Enroll(ctx, testPasscode); err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if err := d.Enroll(ctx, "other"); !errors.Is(err, ErrAlreadyEnrolled) {
		t.Errorf("second Enroll() error = %v, want ErrAlreadyEnrolled", err)
	}
	if gen, _ := d.Generation(ctx); gen != 1 {
		t.Errorf("Generation() = %d, want 1", gen)
	}
}

func TestSoftwareDevice_Availability(t *testing.T) {
	ctx := context.Background()

	d := newTestDevice(t, staticPrompt(testPasscode), false)
	if a, _ := d.Availability(ctx); a.Available || a.Error != AvailabilityNoneEnrolled {
		t.Errorf("Availability() = %+v, want NONE_ENROLLED", a)
	}

	d.Enroll(ctx, testPasscode)
	if a, _ := d.Availability(ctx); !a.Available || a.Type != BiometryBiometrics {
		t.Errorf("Availability() = %+v, want available", a)
	}

	d.SetHardwarePresent(false)
	if a, _ := d.Availability(ctx); a.Available || a.Error != AvailabilityNoHardware {
		t.Errorf("Availability() = %+v, want NO_HARDWARE", a)
	}
}

// failingStore is a BytesStore whose reads fail
type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) Get(ctx context.Context, id string) ([]byte, error) {
	return nil, NewIOError("get", id, s.err)
}

func TestSoftwareDevice_AvailabilityStoreError(t *testing.T) {
	diskErr := errors.New("disk gone")
	d, err := NewSoftwareDevice(DeviceOptions{
		Store:  &failingStore{MemoryStore: NewMemoryStore(), err: diskErr},
		Prompt: staticPrompt(testPasscode),
		Argon2: fastArgon2,
	})
	if err != nil {
		t.Fatalf("NewSoftwareDevice() error = %v", err)
	}

	a, err := d.Availability(context.Background())
	if a.Available {
		t.Error("Availability() reported available after a failed read")
	}
	if KindOf(err) != KindStorageIO || !errors.Is(err, diskErr) {
		t.Errorf("Availability() error = %v, want StorageIO wrapping the read error", err)
	}
}

func TestSoftwareDevice_SymmetricWrapUnwrap(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, staticPrompt(testPasscode), true)

	if err := d.Generate(ctx, symmetricSpec(SymmetricMasterKeyAlias, true)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ok, _ := d.Contains(ctx, SymmetricMasterKeyAlias); !ok {
		t.Fatal("Contains() = false after Generate")
	}

	nonce, _ := GenerateNonce(NonceSize)
	appKey := bytes.Repeat([]byte{7}, KeySize)

	wrap := authorizedCipher(t, d, SymmetricMasterKeyAlias, DirectionWrap, nonce)
	wrapped, err := wrap.DoFinal(appKey)
	if err != nil {
		t.Fatalf("DoFinal(wrap) error = %v", err)
	}
	if _, err := wrap.DoFinal(appKey); !errors.Is(err, ErrCipherConsumed) {
		t.Errorf("second DoFinal() error = %v, want ErrCipherConsumed", err)
	}
	wrap.Release()

	unwrap := authorizedCipher(t, d, SymmetricMasterKeyAlias, DirectionUnwrap, nonce)
	defer unwrap.Release()
	got, err := unwrap.DoFinal(wrapped)
	if err != nil {
		t.Fatalf("DoFinal(unwrap) error = %v", err)
	}
	if !bytes.Equal(got, appKey) {
		t.Error("unwrapped key differs from wrapped key")
	}
}

func TestSoftwareDevice_CipherRequiresPresent(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, staticPrompt(testPasscode), true)
	d.Generate(ctx, symmetricSpec("k", true))

	nonce, _ := GenerateNonce(NonceSize)
	hw, err := d.Cipher(ctx, "k", DirectionWrap, nonce)
	if err != nil {
		t.Fatalf("Cipher() error = %v", err)
	}
	if _, err := hw.DoFinal([]byte("x")); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("DoFinal() before Present error = %v, want ErrNotAuthenticated", err)
	}

	if _, err := d.Cipher(ctx, "missing", DirectionWrap, nonce); !errors.Is(err, ErrKeyStoreUnavailable) {
		t.Errorf("Cipher(missing) error = %v, want ErrKeyStoreUnavailable", err)
	}
	if _, err := d.Cipher(ctx, "k", DirectionWrap, nonce[:12]); !IsValidationError(err) {
		t.Errorf("Cipher() with short nonce error = %v, want ValidationError", err)
	}
	if _, err := d.Cipher(ctx, "k", DirectionSign, nil); !errors.Is(err, ErrWrongDirection) {
		t.Errorf("Cipher(sign) on symmetric key error = %v, want ErrWrongDirection", err)
	}
}

func TestSoftwareDevice_AsymmetricKey(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, staticPrompt(testPasscode), true)

	if err := d.Generate(ctx, asymmetricSpec(AsymmetricMasterKeyAlias)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	appKey := bytes.Repeat([]byte{9}, KeySize)
	wrap := authorizedCipher(t, d, AsymmetricMasterKeyAlias, DirectionWrap, nil)
	wrapped, err := wrap.DoFinal(appKey)
	wrap.Release()
	if err != nil {
		t.Fatalf("DoFinal(wrap) error = %v", err)
	}
	if len(wrapped) != p256PointSize+NonceSize+KeySize+TagSize {
		t.Errorf("wrapped length = %d", len(wrapped))
	}

	unwrap := authorizedCipher(t, d, AsymmetricMasterKeyAlias, DirectionUnwrap, nil)
	got, err := unwrap.DoFinal(wrapped)
	unwrap.Release()
	if err != nil || !bytes.Equal(got, appKey) {
		t.Fatalf("DoFinal(unwrap) = %x, %v", got, err)
	}

	digest := sha512.Sum512([]byte("message"))
	sign := authorizedCipher(t, d, AsymmetricMasterKeyAlias, DirectionSign, nil)
	sig, err := sign.DoFinal(digest[:])
	sign.Release()
	if err != nil {
		t.Fatalf("DoFinal(sign) error = %v", err)
	}

	pub, err := d.PublicKey(ctx, AsymmetricMasterKeyAlias)
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if !ecdsa.VerifyASN1(pub.(*ecdsa.PublicKey), digest[:], sig) {
		t.Error("signature does not verify against the public key")
	}
}

func TestSoftwareDevice_WrongPasscodeAndLockout(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	prompt := newCountingPrompt("0000")

	d, err := NewSoftwareDevice(DeviceOptions{
		Store:         NewMemoryStore(),
		Prompt:        prompt.ask,
		MaxAttempts:   3,
		LockoutPeriod: 30 * time.Second,
		Argon2:        fastArgon2,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSoftwareDevice() error = %v", err)
	}
	d.Enroll(ctx, testPasscode)
	d.Generate(ctx, symmetricSpec("k", true))
	nonce, _ := GenerateNonce(NonceSize)

	present := func() Outcome {
		hw, err := d.Cipher(ctx, "k", DirectionWrap, nonce)
		if err != nil {
			t.Fatalf("Cipher() error = %v", err)
		}
		defer hw.Release()
		return d.Present(ctx, PromptConfig{}, hw)
	}

	for i := 0; i < 2; i++ {
		if out := present(); out.Status != OutcomeFailed {
			t.Fatalf("attempt %d: Present() = %v, want failed", i+1, out.Status)
		}
	}
	if out := present(); out.Status != OutcomeError || !errors.Is(out.Err, ErrLockout) {
		t.Fatalf("attempt 3: Present() = %v (%v), want lockout", out.Status, out.Err)
	}
	if a, _ := d.Availability(ctx); a.Error != AvailabilityLockout {
		t.Errorf("Availability() = %+v, want LOCKOUT", a)
	}

	// The correct passcode is refused while locked out
	prompt.set(testPasscode)
	calls := prompt.calls.Load()
	if out := present(); !errors.Is(out.Err, ErrLockout) {
		t.Errorf("Present() while locked out = %v, want lockout", out.Status)
	}
	if prompt.calls.Load() != calls {
		t.Error("locked out device must not prompt")
	}

	clock.Advance(10 * time.Second)
	if out := present(); out.Status != OutcomeSucceeded {
		t.Errorf("Present() after lockout period = %v (%v), want succeeded", out.Status, out.Err)
	}
}

func TestSoftwareDevice_PromptCancelled(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, func(ctx context.Context, p PromptConfig) (string, error) {
		return "", ErrAuthenticationCanceled
	}, true)
	d.Generate(ctx, symmetricSpec("k", true))

	nonce, _ := GenerateNonce(NonceSize)
	hw, _ := d.Cipher(ctx, "k", DirectionWrap, nonce)
	defer hw.Release()

	out := d.Present(ctx, PromptConfig{}, hw)
	if out.Status != OutcomeError || !errors.Is(out.Err, ErrAuthenticationCanceled) {
		t.Errorf("Present() = %v (%v), want cancelled", out.Status, out.Err)
	}
}

func TestSoftwareDevice_ForeignCipher(t *testing.T) {
	ctx := context.Background()
	a := newTestDevice(t, staticPrompt(testPasscode), true)
	b := newTestDevice(t, staticPrompt(testPasscode), true)
	a.Generate(ctx, symmetricSpec("k", true))

	nonce, _ := GenerateNonce(NonceSize)
	hw, _ := a.Cipher(ctx, "k", DirectionWrap, nonce)
	defer hw.Release()

	if out := b.Present(ctx, PromptConfig{}, hw); out.Status != OutcomeError {
		t.Errorf("Present() with foreign cipher = %v, want error", out.Status)
	}
	if out := b.Present(ctx, PromptConfig{}, &fakeCipher{}); out.Status != OutcomeError {
		t.Errorf("Present() with fake cipher = %v, want error", out.Status)
	}
}

func TestSoftwareDevice_Reenroll(t *testing.T) {
	ctx := context.Background()
	prompt := newCountingPrompt(testPasscode)
	d := newTestDevice(t, prompt.ask, true)

	d.Generate(ctx, symmetricSpec("bound", true))
	d.Generate(ctx, symmetricSpec("durable", false))

	nonce, _ := GenerateNonce(NonceSize)
	wrap := authorizedCipher(t, d, "durable", DirectionWrap, nonce)
	wrapped, _ := wrap.DoFinal([]byte("secret"))
	wrap.Release()

	// A cipher prepared before re-enrollment is invalidated at the prompt
	stale, err := d.Cipher(ctx, "bound", DirectionWrap, nonce)
	if err != nil {
		t.Fatalf("Cipher() error = %v", err)
	}

	if err := d.Reenroll(ctx, "wrong", "1357"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Reenroll() with wrong passcode error = %v, want ErrAuthenticationFailed", err)
	}
	if err := d.Reenroll(ctx, testPasscode, "1357"); err != nil {
		t.Fatalf("Reenroll() error = %v", err)
	}
	if gen, _ := d.Generation(ctx); gen != 2 {
		t.Errorf("Generation() = %d, want 2", gen)
	}
	prompt.set("1357")

	if out := d.Present(ctx, PromptConfig{}, stale); out.Status != OutcomeInvalidated {
		t.Errorf("Present() with stale cipher = %v, want invalidated", out.Status)
	}
	stale.Release()

	if _, err := d.Cipher(ctx, "bound", DirectionWrap, nonce); !errors.Is(err, ErrKeyInvalidated) {
		t.Errorf("Cipher(bound) error = %v, want ErrKeyInvalidated", err)
	}

	unwrap := authorizedCipher(t, d, "durable", DirectionUnwrap, nonce)
	defer unwrap.Release()
	got, err := unwrap.DoFinal(wrapped)
	if err != nil || string(got) != "secret" {
		t.Errorf("durable key after re-enrollment = %q, %v", got, err)
	}
}

func TestSoftwareDevice_Delete(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, staticPrompt(testPasscode), true)
	d.Generate(ctx, symmetricSpec("k", true))

	if err := d.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := d.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() of missing key error = %v, want nil", err)
	}
	if ok, _ := d.Contains(ctx, "k"); ok {
		t.Error("Contains() = true after Delete")
	}
}

func TestNewSoftwareDevice_Options(t *testing.T) {
	tests := []struct {
		name string
		opts DeviceOptions
	}{
		{"nil store", DeviceOptions{}},
		{"negative attempts", DeviceOptions{Store: NewMemoryStore(), MaxAttempts: -1}},
		{"negative period", DeviceOptions{Store: NewMemoryStore(), LockoutPeriod: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSoftwareDevice(tt.opts); err == nil {
				t.Error("NewSoftwareDevice() should fail")
			}
		})
	}
}

func staticPrompt(passcode string) PasscodeFunc {
	return func(ctx context.Context, prompt PromptConfig) (string, error) {
		return passcode, nil
	}
}
