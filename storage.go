package biosecure

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha512"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Storage is the biometric-gated secure storage. It wires the vault, gate,
// key manager and codecs together; create one per install with New.
type Storage struct {
	cfg    Config
	vault  *Vault
	gate   *Gate
	keys   *KeyManager
	prefs  *Codec
	files  *Codec
	pool   *workerPool
	logger zerolog.Logger
	closed atomic.Bool
}

// New creates a Storage from config. No key material is created until the
// first Authenticate.
func New(config *Config) (*Storage, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := config.withDefaults()

	vault, err := NewVault(cfg)
	if err != nil {
		return nil, err
	}

	pool := newWorkerPool(cfg.Workers)
	keys := NewKeyManager(vault, cfg.Preferences, cfg.Rand, *cfg.Logger)

	return &Storage{
		cfg:    cfg,
		vault:  vault,
		gate:   NewGate(cfg.Authenticator, cfg.MaxPendingAuthentications, *cfg.Logger),
		keys:   keys,
		prefs:  newPreferenceCodec(keys, cfg.Preferences, pool),
		files:  newFileCodec(keys, cfg.Files, pool),
		pool:   pool,
		logger: cfg.Logger.With().Str("component", "storage").Logger(),
	}, nil
}

func (s *Storage) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// IsBiometricsAvailable asks the authenticator whether it can prompt
func (s *Storage) IsBiometricsAvailable(ctx context.Context) (Availability, error) {
	if err := s.check(); err != nil {
		return Availability{}, err
	}
	return s.gate.Availability(ctx)
}

// IsAppLocked reports whether first-time setup has completed, i.e. a
// wrapped application key is persisted. It stays true across Logout.
func (s *Storage) IsAppLocked(ctx context.Context) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.keys.IsUnlocked(ctx)
}

// IsUnlocked is IsAppLocked under the key manager's name
func (s *Storage) IsUnlocked(ctx context.Context) (bool, error) {
	return s.IsAppLocked(ctx)
}

// IsResident reports whether the application key is currently in memory
func (s *Storage) IsResident() bool {
	return s.keys.IsResident()
}

// Authenticate runs the biometric ceremony and makes the application key
// resident, generating it on first use. It returns false with the
// session's error when the ceremony does not succeed.
func (s *Storage) Authenticate(ctx context.Context, prompt PromptConfig) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}

	session := s.gate.AuthenticateAndUse(ctx, prompt, func(ctx context.Context) (*WrappingCipher, error) {
		if err := s.vault.EnsureMasterKeys(ctx); err != nil {
			return nil, err
		}
		dir, err := s.keys.Direction(ctx)
		if err != nil {
			return nil, err
		}
		return s.vault.WrappingCipher(ctx, dir)
	}, func(ctx context.Context, cipher *WrappingCipher) error {
		_, err := s.pool.Run(ctx, func() ([]byte, error) {
			return nil, s.keys.LoadOrGenerate(ctx, cipher)
		})
		if err != nil && ctx.Err() != nil {
			// a key installed before ctx was done must not outlive the call
			s.keys.Unload()
		}
		return err
	})
	if !session.Succeeded() {
		return false, s.recover(ctx, session.Err)
	}

	s.logger.Debug().Str("session", session.ID.String()).Msg("application key resident")
	return true, nil
}

// recover resets all key material for an invalidation error when the caller
// opted in. err is returned either way.
func (s *Storage) recover(ctx context.Context, err error) error {
	if !s.cfg.ResetOnInvalidation || !errors.Is(err, ErrKeyInvalidated) {
		return err
	}

	s.logger.Warn().Msg("master key invalidated, resetting key material")
	if resetErr := s.keys.Reset(ctx); resetErr != nil {
		return errors.Join(err, fmt.Errorf("reset after invalidation: %w", resetErr))
	}
	return err
}

// EncryptAndSaveData encrypts data and stores it in the preference store
func (s *Storage) EncryptAndSaveData(ctx context.Context, id string, data []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.prefs.EncryptAndSave(ctx, id, data)
}

// LoadAndDecryptData reads and decrypts an entry of the preference store
func (s *Storage) LoadAndDecryptData(ctx context.Context, id string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.prefs.LoadAndDecrypt(ctx, id)
}

// DeleteData removes an entry of the preference store
func (s *Storage) DeleteData(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.prefs.Delete(ctx, id)
}

// EncryptAndSaveDataToFile encrypts data and writes it to the file store
func (s *Storage) EncryptAndSaveDataToFile(ctx context.Context, path string, data []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.files.EncryptAndSave(ctx, path, data)
}

// LoadFileAndDecryptData reads and decrypts a file of the file store
func (s *Storage) LoadFileAndDecryptData(ctx context.Context, path string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.files.LoadAndDecrypt(ctx, path)
}

// DeleteFile removes a file of the file store
func (s *Storage) DeleteFile(ctx context.Context, path string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.files.Delete(ctx, path)
}

// SignData signs the SHA-512 digest of data with the asymmetric master key.
// Every signature requires its own authentication.
func (s *Storage) SignData(ctx context.Context, prompt PromptConfig, data []byte) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	digest := sha512.Sum512(data)
	var sig []byte
	session := s.gate.AuthenticateAndUse(ctx, prompt, func(ctx context.Context) (*WrappingCipher, error) {
		if err := s.vault.EnsureMasterKeys(ctx); err != nil {
			return nil, err
		}
		return s.vault.WrappingCipher(ctx, DirectionSign)
	}, func(ctx context.Context, cipher *WrappingCipher) error {
		var err error
		sig, err = s.pool.Run(ctx, func() ([]byte, error) {
			return cipher.Sign(digest[:])
		})
		return err
	})
	if !session.Succeeded() {
		return nil, s.recover(ctx, session.Err)
	}
	return sig, nil
}

// VerifySignature checks an ASN.1 ECDSA signature over the SHA-512 digest of
// data against the asymmetric master key. No authentication is needed.
func (s *Storage) VerifySignature(ctx context.Context, data, signature []byte) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}

	pub, err := s.vault.PublicKey(ctx)
	if err != nil {
		return false, err
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, NewValidationError("public_key", fmt.Sprintf("%T", pub), "not an ECDSA public key")
	}

	digest := sha512.Sum512(data)
	return ecdsa.VerifyASN1(ecPub, digest[:], signature), nil
}

// Reset destroys all key material: the resident key, the wrapped key, the
// wrap nonce and the master keys. Stored data becomes unreadable.
func (s *Storage) Reset(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.keys.Reset(ctx)
}

// Logout drops the resident application key
func (s *Storage) Logout() {
	s.keys.Unload()
}

// Close drops the resident key and stops the worker pool
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.keys.Unload()
	s.pool.Close()
	return nil
}
