package biosecure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// NonceSize is the nonce length used for every AES-GCM operation
	NonceSize = 16

	// KeySize is the AES-256 key length
	KeySize = 32

	// TagSize is the GCM authentication tag length
	TagSize = 16
)

// CipherEngine provides AEAD encryption/decryption
type CipherEngine interface {
	// Encrypt encrypts plaintext with the given nonce
	Encrypt(nonce, plaintext []byte) ([]byte, error)

	// Decrypt decrypts ciphertext with the given nonce
	Decrypt(nonce, ciphertext []byte) ([]byte, error)

	// NonceSize returns the size of nonces in bytes
	NonceSize() int

	// Overhead returns the authentication tag size
	Overhead() int
}

// AESGCMEngine implements CipherEngine using AES-256-GCM with 16-byte nonces
type AESGCMEngine struct {
	aead cipher.AEAD
}

// NewAESGCMEngine creates a new AES-256-GCM cipher engine
func NewAESGCMEngine(key []byte) (*AESGCMEngine, error) {
	if err := ValidateKey(key, KeySize); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("init", "", fmt.Errorf("failed to create AES cipher: %w", err))
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, NewEncryptionError("init", "", fmt.Errorf("failed to create GCM: %w", err))
	}

	return &AESGCMEngine{aead: aead}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM
func (e *AESGCMEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if err := ValidateNonce(nonce, e.NonceSize()); err != nil {
		return nil, err
	}

	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext using AES-256-GCM
func (e *AESGCMEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if err := ValidateNonce(nonce, e.NonceSize()); err != nil {
		return nil, err
	}

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// NonceSize returns the nonce size (16 bytes)
func (e *AESGCMEngine) NonceSize() int {
	return e.aead.NonceSize()
}

// Overhead returns the authentication tag size (16 bytes)
func (e *AESGCMEngine) Overhead() int {
	return e.aead.Overhead()
}

// EncryptData seals plaintext under key with nonce. The result is the
// ciphertext followed by the tag; the nonce is not included.
func EncryptData(plaintext, key, nonce []byte) ([]byte, error) {
	engine, err := NewAESGCMEngine(key)
	if err != nil {
		return nil, err
	}
	return engine.Encrypt(nonce, plaintext)
}

// DecryptData opens ciphertext produced by EncryptData. A tag mismatch returns
// ErrAuthFailed.
func DecryptData(ciphertext, key, nonce []byte) ([]byte, error) {
	engine, err := NewAESGCMEngine(key)
	if err != nil {
		return nil, err
	}
	return engine.Decrypt(nonce, ciphertext)
}

// GenerateNonce generates a random nonce of the given size
func GenerateNonce(size int) ([]byte, error) {
	return generateNonceFrom(rand.Reader, size)
}

func generateNonceFrom(r io.Reader, size int) ([]byte, error) {
	if err := ValidateSize(size, "nonce_size", 1, 0); err != nil {
		return nil, err
	}

	nonce := make([]byte, size)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, nil
}

// sealBlob encrypts plaintext with a fresh nonce and returns nonce||ciphertext
func sealBlob(engine CipherEngine, r io.Reader, plaintext []byte) ([]byte, error) {
	nonce, err := generateNonceFrom(r, engine.NonceSize())
	if err != nil {
		return nil, err
	}

	ciphertext, err := engine.Encrypt(nonce, plaintext)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, len(nonce)+len(ciphertext))
	blob = append(blob, nonce...)
	return append(blob, ciphertext...), nil
}

// openBlob splits nonce||ciphertext at the fixed nonce boundary and decrypts
func openBlob(engine CipherEngine, blob []byte) ([]byte, error) {
	n := engine.NonceSize()
	if len(blob) < n {
		return nil, ErrCiphertextTooShort
	}
	return engine.Decrypt(blob[:n], blob[n:])
}
