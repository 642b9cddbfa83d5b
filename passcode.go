package biosecure

import (
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
)

// Argon2idParams contains parameters for Argon2id passcode derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB
	Iterations  uint32 // Number of passes
	Parallelism uint8  // Degree of parallelism
	SaltSize    int    // Size of salt in bytes
	KeySize     int    // Size of derived key in bytes
}

// withDefaults fills zero fields with the recommended values
func (p Argon2idParams) withDefaults() Argon2idParams {
	if p.Memory == 0 {
		p.Memory = 64 * 1024 // 64 MB
	}
	if p.Iterations == 0 {
		p.Iterations = 3
	}
	if p.Parallelism == 0 {
		p.Parallelism = 4
	}
	if p.SaltSize == 0 {
		p.SaltSize = 16
	}
	if p.KeySize == 0 {
		p.KeySize = KeySize
	}
	return p
}

// passcodeKey derives a key-encryption key from a passcode
type passcodeKey struct {
	params Argon2idParams
}

func newPasscodeKey(params Argon2idParams) *passcodeKey {
	return &passcodeKey{params: params.withDefaults()}
}

// DeriveKey derives the key-encryption key from the passcode and salt
func (p *passcodeKey) DeriveKey(passcode, salt []byte) ([]byte, error) {
	if len(passcode) == 0 {
		return nil, errors.New("passcode cannot be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt cannot be empty")
	}

	key := argon2.IDKey(
		passcode,
		salt,
		p.params.Iterations,
		p.params.Memory,
		p.params.Parallelism,
		uint32(p.params.KeySize),
	)
	return key, nil
}

// GenerateSalt generates a new random salt
func (p *passcodeKey) GenerateSalt(r io.Reader) ([]byte, error) {
	salt := make([]byte, p.params.SaltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts secret under the key derived from passcode and salt
func (p *passcodeKey) Seal(r io.Reader, passcode, salt, secret []byte) ([]byte, error) {
	kek, err := p.DeriveKey(passcode, salt)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(kek)

	engine, err := NewAESGCMEngine(kek)
	if err != nil {
		return nil, err
	}
	return sealBlob(engine, r, secret)
}

// Open decrypts a sealed secret. A wrong passcode returns ErrAuthFailed.
func (p *passcodeKey) Open(passcode, salt, sealed []byte) ([]byte, error) {
	kek, err := p.DeriveKey(passcode, salt)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(kek)

	engine, err := NewAESGCMEngine(kek)
	if err != nil {
		return nil, err
	}
	return openBlob(engine, sealed)
}
