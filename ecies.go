package biosecure

import (
	"crypto/ecdh"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	eciesInfo = "biosecure ecies v1"
	sealInfo  = "biosecure device seal v1"

	// p256PointSize is the size of an uncompressed P-256 point
	p256PointSize = 65

	// x25519Size is the size of X25519 scalars and points
	x25519Size = 32
)

// deriveSealKey expands a shared secret into an AES-256 key bound to both
// public keys.
func deriveSealKey(shared, ephemeral, recipient []byte, info string) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeral)+len(recipient))
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// eciesEncrypt encrypts plaintext to a P-256 public key. The output is
// ephemeral public key || nonce || ciphertext+tag.
func eciesEncrypt(r io.Reader, pub *ecdh.PublicKey, plaintext []byte) ([]byte, error) {
	eph, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := eph.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh failed: %w", err)
	}
	defer memguard.WipeBytes(shared)

	ephPub := eph.PublicKey().Bytes()
	key, err := deriveSealKey(shared, ephPub, pub.Bytes(), eciesInfo)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	engine, err := NewAESGCMEngine(key)
	if err != nil {
		return nil, err
	}
	blob, err := sealBlob(engine, r, plaintext)
	if err != nil {
		return nil, err
	}

	return append(ephPub, blob...), nil
}

// eciesDecrypt reverses eciesEncrypt
func eciesDecrypt(priv *ecdh.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < p256PointSize+NonceSize+TagSize {
		return nil, ErrCiphertextTooShort
	}

	ephPub, err := ecdh.P256().NewPublicKey(ciphertext[:p256PointSize])
	if err != nil {
		return nil, ErrAuthFailed
	}

	shared, err := priv.ECDH(ephPub)
	if err != nil {
		return nil, ErrAuthFailed
	}
	defer memguard.WipeBytes(shared)

	key, err := deriveSealKey(shared, ciphertext[:p256PointSize], priv.PublicKey().Bytes(), eciesInfo)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	engine, err := NewAESGCMEngine(key)
	if err != nil {
		return nil, err
	}
	return openBlob(engine, ciphertext[p256PointSize:])
}

// generateX25519 returns a fresh Curve25519 key pair. The private key is
// clamped per RFC 7748.
func generateX25519(r io.Reader) (priv, pub []byte, err error) {
	priv = make([]byte, x25519Size)
	if _, err = io.ReadFull(r, priv); err != nil {
		return nil, nil, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		memguard.WipeBytes(priv)
		return nil, nil, err
	}
	return priv, pub, nil
}

// sealToX25519 encrypts plaintext to an X25519 public key. The output is
// ephemeral public key || nonce || ciphertext+tag.
func sealToX25519(r io.Reader, recipient, plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := generateX25519(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer memguard.WipeBytes(ephPriv)

	shared, err := curve25519.X25519(ephPriv, recipient)
	if err != nil {
		return nil, fmt.Errorf("x25519 failed: %w", err)
	}
	defer memguard.WipeBytes(shared)

	key, err := deriveSealKey(shared, ephPub, recipient, sealInfo)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	engine, err := NewAESGCMEngine(key)
	if err != nil {
		return nil, err
	}
	blob, err := sealBlob(engine, r, plaintext)
	if err != nil {
		return nil, err
	}
	return append(ephPub, blob...), nil
}

// openFromX25519 reverses sealToX25519
func openFromX25519(priv, sealed []byte) ([]byte, error) {
	if len(sealed) < x25519Size+NonceSize+TagSize {
		return nil, ErrCiphertextTooShort
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(priv, sealed[:x25519Size])
	if err != nil {
		return nil, errors.Join(ErrAuthFailed, err)
	}
	defer memguard.WipeBytes(shared)

	key, err := deriveSealKey(shared, sealed[:x25519Size], pub, sealInfo)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	engine, err := NewAESGCMEngine(key)
	if err != nil {
		return nil, err
	}
	return openBlob(engine, sealed[x25519Size:])
}
