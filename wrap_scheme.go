package biosecure

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
)

// wrapScheme holds what differs between wrapping algorithms: the master key
// alias and the nonce bookkeeping around the keystore cipher.
type wrapScheme interface {
	alias() string

	// nonceFor returns the nonce to bind a cipher of direction dir to
	nonceFor(ctx context.Context, dir Direction) ([]byte, error)

	// commit records scheme metadata once a wrap has succeeded
	commit(ctx context.Context, c *WrappingCipher) error

	// discard removes scheme metadata
	discard(ctx context.Context) error
}

func newWrapScheme(alg KeyAlgorithm, prefs BytesStore, rand io.Reader) (wrapScheme, error) {
	switch alg {
	case AlgorithmSymmetric:
		return &symmetricScheme{prefs: prefs, rand: rand}, nil
	case AlgorithmAsymmetric:
		return &asymmetricScheme{prefs: prefs}, nil
	default:
		return nil, NewValidationError("algorithm", alg, "unsupported key algorithm")
	}
}

// symmetricScheme wraps with the AES-GCM master key. Every wrap draws a
// fresh nonce, persisted under KeyStoreIVEntry only after the wrap succeeds.
type symmetricScheme struct {
	prefs BytesStore
	rand  io.Reader
}

func (s *symmetricScheme) alias() string {
	return SymmetricMasterKeyAlias
}

func (s *symmetricScheme) nonceFor(ctx context.Context, dir Direction) ([]byte, error) {
	switch dir {
	case DirectionWrap:
		return generateNonceFrom(s.rand, NonceSize)
	case DirectionUnwrap:
		return s.loadNonce(ctx)
	default:
		return nil, ErrWrongDirection
	}
}

// loadNonce reads the persisted wrap nonce. A wrapped key without a usable
// nonce can never be unwrapped again, so it is reported as invalidated.
func (s *symmetricScheme) loadNonce(ctx context.Context) ([]byte, error) {
	encoded, err := s.prefs.Get(ctx, KeyStoreIVEntry)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: wrap nonce missing", ErrKeyInvalidated)
		}
		return nil, err
	}

	nonce, err := hex.DecodeString(string(encoded))
	if err != nil || len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: wrap nonce corrupt", ErrKeyInvalidated)
	}
	return nonce, nil
}

func (s *symmetricScheme) commit(ctx context.Context, c *WrappingCipher) error {
	nonce := c.Nonce()
	if len(nonce) != NonceSize {
		return NewValidationError("nonce", len(nonce), "wrap cipher carries no nonce")
	}
	return s.prefs.Put(ctx, KeyStoreIVEntry, []byte(hex.EncodeToString(nonce)))
}

func (s *symmetricScheme) discard(ctx context.Context) error {
	return deleteIfPresent(ctx, s.prefs, KeyStoreIVEntry)
}

// asymmetricScheme wraps with ECIES to the P-256 master key pair. The
// ephemeral key and nonce travel inside the wrapped key.
type asymmetricScheme struct {
	prefs BytesStore
}

func (s *asymmetricScheme) alias() string {
	return AsymmetricMasterKeyAlias
}

func (s *asymmetricScheme) nonceFor(ctx context.Context, dir Direction) ([]byte, error) {
	return nil, nil
}

func (s *asymmetricScheme) commit(ctx context.Context, c *WrappingCipher) error {
	return nil
}

func (s *asymmetricScheme) discard(ctx context.Context) error {
	return deleteIfPresent(ctx, s.prefs, KeyStoreIVEntry)
}
