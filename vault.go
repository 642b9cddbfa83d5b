package biosecure

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Vault manages the master keys in the Keystore and prepares the ciphers
// that wrap, unwrap and sign with them.
type Vault struct {
	keystore  Keystore
	scheme    wrapScheme
	algorithm KeyAlgorithm
	signing   bool

	unlockedDeviceRequired bool
	hardwareIsolated       bool

	logger zerolog.Logger

	// serializes key creation and regeneration
	mu sync.Mutex
}

// NewVault creates a vault over the configured keystore and preference
// store. The wrapping algorithm is fixed for the lifetime of the vault.
func NewVault(cfg Config) (*Vault, error) {
	if cfg.Keystore == nil {
		return nil, errors.New("keystore cannot be nil")
	}
	if cfg.Preferences == nil {
		return nil, errors.New("preferences store cannot be nil")
	}
	cfg = cfg.withDefaults()

	if cfg.Algorithm == AlgorithmAsymmetric && !cfg.Keystore.SupportsSigning() {
		return nil, NewValidationError("algorithm", cfg.Algorithm, "keystore does not support asymmetric keys")
	}

	scheme, err := newWrapScheme(cfg.Algorithm, cfg.Preferences, cfg.Rand)
	if err != nil {
		return nil, err
	}

	return &Vault{
		keystore:               cfg.Keystore,
		scheme:                 scheme,
		algorithm:              cfg.Algorithm,
		signing:                cfg.Keystore.SupportsSigning(),
		unlockedDeviceRequired: cfg.UnlockedDeviceRequired,
		hardwareIsolated:       cfg.HardwareIsolated,
		logger:                 cfg.Logger.With().Str("component", "vault").Logger(),
	}, nil
}

// Algorithm returns the wrapping algorithm of the vault
func (v *Vault) Algorithm() KeyAlgorithm {
	return v.algorithm
}

// WrapAlias returns the alias of the master key that wraps the application key
func (v *Vault) WrapAlias() string {
	return v.scheme.alias()
}

// specs returns the master keys this vault maintains
func (v *Vault) specs() []KeySpec {
	specs := []KeySpec{{
		Alias:     SymmetricMasterKeyAlias,
		Algorithm: AlgorithmSymmetric,
		Purpose:   PurposeEncrypt,
	}}

	if v.signing {
		purpose := PurposeSign
		if v.algorithm == AlgorithmAsymmetric {
			purpose |= PurposeEncrypt
		}
		specs = append(specs, KeySpec{
			Alias:     AsymmetricMasterKeyAlias,
			Algorithm: AlgorithmAsymmetric,
			Purpose:   purpose,
		})
	}

	for i := range specs {
		specs[i].UserAuthenticationRequired = true
		specs[i].InvalidatedByBiometricEnrollment = true
		specs[i].UnlockedDeviceRequired = v.unlockedDeviceRequired
		specs[i].HardwareIsolated = v.hardwareIsolated
	}
	return specs
}

// EnsureMasterKeys generates each master key whose alias is absent
func (v *Vault) EnsureMasterKeys(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.ensureLocked(ctx)
}

func (v *Vault) ensureLocked(ctx context.Context) error {
	for _, spec := range v.specs() {
		ok, err := v.keystore.Contains(ctx, spec.Alias)
		if err != nil {
			return fmt.Errorf("failed to look up master key %s: %w", spec.Alias, err)
		}
		if ok {
			continue
		}

		if err := v.keystore.Generate(ctx, spec); err != nil {
			return fmt.Errorf("failed to generate master key %s: %w", spec.Alias, err)
		}
		v.logger.Info().Str("alias", spec.Alias).Msg("master key generated")
	}
	return nil
}

// ForceRegenerateMasterKeys deletes the wrap nonce and every master key, then
// generates new ones. Anything wrapped under the old keys is unrecoverable.
func (v *Vault) ForceRegenerateMasterKeys(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.scheme.discard(ctx); err != nil {
		return fmt.Errorf("failed to delete wrap metadata: %w", err)
	}
	for _, alias := range []string{SymmetricMasterKeyAlias, AsymmetricMasterKeyAlias} {
		if err := v.keystore.Delete(ctx, alias); err != nil {
			return fmt.Errorf("failed to delete master key %s: %w", alias, err)
		}
	}

	if err := v.ensureLocked(ctx); err != nil {
		return err
	}
	v.logger.Info().Msg("master keys regenerated")
	return nil
}

// WrappingCipher prepares an unauthorized cipher for dir. Wrap and unwrap
// use the wrapping master key; sign uses the asymmetric key pair.
func (v *Vault) WrappingCipher(ctx context.Context, dir Direction) (*WrappingCipher, error) {
	alias := v.scheme.alias()
	if dir == DirectionSign {
		if !v.signing {
			return nil, &CapabilityError{Code: AvailabilityUnsupported}
		}
		alias = AsymmetricMasterKeyAlias
	}

	ok, err := v.keystore.Contains(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to look up master key %s: %w", alias, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyStoreUnavailable, alias)
	}

	var nonce []byte
	if dir != DirectionSign {
		nonce, err = v.scheme.nonceFor(ctx, dir)
		if err != nil {
			return nil, err
		}
	}

	hw, err := v.keystore.Cipher(ctx, alias, dir, nonce)
	if err != nil {
		return nil, err
	}

	v.logger.Debug().Str("alias", alias).Str("direction", dir.String()).Msg("wrapping cipher prepared")
	return newWrappingCipher(hw, nonce), nil
}

// Commit records the metadata of a successful wrap
func (v *Vault) Commit(ctx context.Context, c *WrappingCipher) error {
	if c.Direction() != DirectionWrap {
		return ErrWrongDirection
	}
	return v.scheme.commit(ctx, c)
}

// PublicKey returns the public key of the asymmetric master key pair
func (v *Vault) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	if !v.signing {
		return nil, &CapabilityError{Code: AvailabilityUnsupported}
	}
	ok, err := v.keystore.Contains(ctx, AsymmetricMasterKeyAlias)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyStoreUnavailable, AsymmetricMasterKeyAlias)
	}
	return v.keystore.PublicKey(ctx, AsymmetricMasterKeyAlias)
}
