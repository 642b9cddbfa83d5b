package biosecure

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
)

// softCipher is the HardwareCipher of a SoftwareDevice. Its key material is
// unsealed only when the device authorizes it during Present.
type softCipher struct {
	mu       sync.Mutex
	device   *SoftwareDevice
	record   *keyRecord
	dir      Direction
	nonce    []byte
	rand     io.Reader
	material *memguard.LockedBuffer
	used     bool
	released bool
}

func (c *softCipher) Alias() string {
	return c.record.Alias
}

func (c *softCipher) Direction() Direction {
	return c.dir
}

// authorize unseals the key material with the enrollment private key
func (c *softCipher) authorize(enrollmentKey []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.used {
		return ErrCipherConsumed
	}

	material, err := openFromX25519(enrollmentKey, c.record.Sealed)
	if err != nil {
		return fmt.Errorf("failed to unseal %s: %w", c.record.Alias, err)
	}
	if c.material != nil {
		c.material.Destroy()
	}
	c.material = memguard.NewBufferFromBytes(material)
	return nil
}

func (c *softCipher) DoFinal(input []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.used {
		return nil, ErrCipherConsumed
	}
	if c.material == nil {
		return nil, ErrNotAuthenticated
	}
	c.used = true

	switch c.record.Algorithm {
	case AlgorithmSymmetric:
		return c.symmetric(input)
	case AlgorithmAsymmetric:
		return c.asymmetric(input)
	default:
		return nil, NewEncryptionError(c.dir.String(), c.record.Alias, fmt.Errorf("unsupported key algorithm %d", c.record.Algorithm))
	}
}

func (c *softCipher) symmetric(input []byte) ([]byte, error) {
	key := c.material.Bytes()
	switch c.dir {
	case DirectionWrap:
		return EncryptData(input, key, c.nonce)
	case DirectionUnwrap:
		return DecryptData(input, key, c.nonce)
	default:
		return nil, ErrWrongDirection
	}
}

func (c *softCipher) asymmetric(input []byte) ([]byte, error) {
	priv, err := x509.ParseECPrivateKey(c.material.Bytes())
	if err != nil {
		return nil, NewEncryptionError(c.dir.String(), c.record.Alias, err)
	}

	switch c.dir {
	case DirectionWrap:
		pub, err := priv.PublicKey.ECDH()
		if err != nil {
			return nil, NewEncryptionError("wrap", c.record.Alias, err)
		}
		return eciesEncrypt(c.rand, pub, input)
	case DirectionUnwrap:
		key, err := priv.ECDH()
		if err != nil {
			return nil, NewEncryptionError("unwrap", c.record.Alias, err)
		}
		return eciesDecrypt(key, input)
	case DirectionSign:
		return ecdsa.SignASN1(c.rand, priv, input)
	default:
		return nil, ErrWrongDirection
	}
}

func (c *softCipher) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return
	}
	c.released = true
	if c.material != nil {
		c.material.Destroy()
		c.material = nil
	}
	memguard.WipeBytes(c.nonce)
}
