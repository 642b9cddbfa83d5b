package biosecure

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
)

// KeyManager owns the application key. The key is persisted only wrapped by
// the vault's master key and is resident only inside a memguard enclave.
type KeyManager struct {
	mu  sync.RWMutex
	key *memguard.Enclave

	vault  *Vault
	prefs  BytesStore
	rand   io.Reader
	logger zerolog.Logger
}

// NewKeyManager creates a key manager with no resident key
func NewKeyManager(vault *Vault, prefs BytesStore, rand io.Reader, logger zerolog.Logger) *KeyManager {
	return &KeyManager{
		vault:  vault,
		prefs:  prefs,
		rand:   rand,
		logger: logger.With().Str("component", "keymanager").Logger(),
	}
}

// wrappedKey returns the persisted wrapped key, or ErrNotFound
func (k *KeyManager) wrappedKey(ctx context.Context) ([]byte, error) {
	encoded, err := k.prefs.Get(ctx, ApplicationKeyEntry)
	if err != nil {
		return nil, err
	}
	wrapped, err := hex.DecodeString(string(encoded))
	if err != nil {
		return nil, NewCorruptionError(ApplicationKeyEntry, err)
	}
	return wrapped, nil
}

// IsUnlocked reports whether a wrapped application key is persisted
func (k *KeyManager) IsUnlocked(ctx context.Context) (bool, error) {
	_, err := k.prefs.Get(ctx, ApplicationKeyEntry)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsResident reports whether the application key is in memory
func (k *KeyManager) IsResident() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key != nil
}

// Direction returns the cipher direction the next LoadOrGenerate needs
func (k *KeyManager) Direction(ctx context.Context) (Direction, error) {
	ok, err := k.IsUnlocked(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return DirectionUnwrap, nil
	}
	return DirectionWrap, nil
}

// LoadOrGenerate makes the application key resident. A persisted key is
// unwrapped with cipher; otherwise a new key is generated, wrapped with
// cipher and persisted. An unwrap failure never falls back to generation.
// The cipher is released before returning.
func (k *KeyManager) LoadOrGenerate(ctx context.Context, cipher *WrappingCipher) error {
	if cipher == nil {
		return ErrNotAuthenticated
	}
	defer cipher.Release()

	k.mu.Lock()
	defer k.mu.Unlock()

	wrapped, err := k.wrappedKey(ctx)
	switch {
	case err == nil:
		return k.unwrapLocked(ctx, cipher, wrapped)
	case IsCorruptionError(err):
		return &KeyUnwrapError{Alias: cipher.Alias(), Err: err}
	case IsNotFound(err):
		return k.generateLocked(ctx, cipher)
	default:
		return err
	}
}

func (k *KeyManager) unwrapLocked(ctx context.Context, cipher *WrappingCipher, wrapped []byte) error {
	if cipher.Direction() != DirectionUnwrap {
		return ErrWrongDirection
	}
	k.logger.Debug().Str("alias", cipher.Alias()).Msg("key found, unwrapping")

	key, err := cipher.Unwrap(wrapped)
	if err != nil {
		return &KeyUnwrapError{Alias: cipher.Alias(), Err: err}
	}
	if len(key) != KeySize {
		memguard.WipeBytes(key)
		return &KeyUnwrapError{Alias: cipher.Alias(), Err: ErrInvalidKey}
	}
	return k.install(ctx, key)
}

// install makes key resident unless ctx was cancelled meanwhile. A caller
// that gave up must not leave the key behind. key is wiped either way.
func (k *KeyManager) install(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		memguard.WipeBytes(key)
		return err
	}

	// NewEnclave wipes key
	k.key = memguard.NewEnclave(key)
	return nil
}

func (k *KeyManager) generateLocked(ctx context.Context, cipher *WrappingCipher) error {
	if cipher.Direction() != DirectionWrap {
		return ErrWrongDirection
	}
	k.logger.Info().Str("alias", cipher.Alias()).Msg("first use, generating application key")

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(k.rand, key); err != nil {
		return NewEncryptionError("generate", ApplicationKeyEntry, fmt.Errorf("failed to generate key: %w", err))
	}

	wrapped, err := cipher.Wrap(key)
	if err != nil {
		memguard.WipeBytes(key)
		if errors.Is(err, ErrKeyInvalidated) {
			return err
		}
		return NewEncryptionError("wrap", cipher.Alias(), err)
	}

	// The nonce goes first so a persisted key always has its nonce
	if err := k.vault.Commit(ctx, cipher); err != nil {
		memguard.WipeBytes(key)
		return err
	}
	if err := k.prefs.Put(ctx, ApplicationKeyEntry, []byte(hex.EncodeToString(wrapped))); err != nil {
		memguard.WipeBytes(key)
		return err
	}
	return k.install(ctx, key)
}

// Unload drops the resident key. Encrypt and Decrypt fail with
// ErrNotUnlocked until the next LoadOrGenerate.
func (k *KeyManager) Unload() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = nil
}

// Reset drops the resident key, deletes the wrapped key and regenerates the
// master keys. Data encrypted under the old key is unrecoverable.
func (k *KeyManager) Reset(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.key = nil
	if err := deleteIfPresent(ctx, k.prefs, ApplicationKeyEntry); err != nil {
		return err
	}
	if err := k.vault.ForceRegenerateMasterKeys(ctx); err != nil {
		return err
	}
	k.logger.Info().Msg("application key reset")
	return nil
}

// withKey runs fn with the plaintext key under the read lock
func (k *KeyManager) withKey(fn func(key []byte) ([]byte, error)) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.key == nil {
		return nil, ErrNotUnlocked
	}
	buf, err := k.key.Open()
	if err != nil {
		return nil, NewEncryptionError("open", ApplicationKeyEntry, err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Encrypt seals plaintext under the resident key as nonce||ciphertext
func (k *KeyManager) Encrypt(plaintext []byte) ([]byte, error) {
	return k.withKey(func(key []byte) ([]byte, error) {
		engine, err := NewAESGCMEngine(key)
		if err != nil {
			return nil, err
		}
		return sealBlob(engine, k.rand, plaintext)
	})
}

// Decrypt opens a nonce||ciphertext blob under the resident key
func (k *KeyManager) Decrypt(blob []byte) ([]byte, error) {
	return k.withKey(func(key []byte) ([]byte, error) {
		engine, err := NewAESGCMEngine(key)
		if err != nil {
			return nil, err
		}
		return openBlob(engine, blob)
	})
}
