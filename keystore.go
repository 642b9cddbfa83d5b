package biosecure

import (
	"context"
	"crypto"
	"sync"

	"github.com/awnumar/memguard"
)

// Keystore is the platform capability holding master keys. Secret and
// private key material never leaves it; all use goes through a
// HardwareCipher that the Authenticator must authorize first.
type Keystore interface {
	// Contains reports whether a key exists under alias
	Contains(ctx context.Context, alias string) (bool, error)

	// Generate creates a key according to spec, replacing nothing
	Generate(ctx context.Context, spec KeySpec) error

	// Delete removes the key under alias. A missing alias is not an error.
	Delete(ctx context.Context, alias string) error

	// Cipher returns an unauthorized cipher bound to alias and direction.
	// nonce is used by symmetric keys and ignored otherwise. A key that was
	// invalidated by an enrollment change returns ErrKeyInvalidated.
	Cipher(ctx context.Context, alias string, dir Direction, nonce []byte) (HardwareCipher, error)

	// PublicKey returns the public half of an asymmetric key
	PublicKey(ctx context.Context, alias string) (crypto.PublicKey, error)

	// SupportsSigning reports whether asymmetric signing keys can be created
	SupportsSigning() bool
}

// HardwareCipher is a keystore-side cipher bound to one key and direction
type HardwareCipher interface {
	Alias() string
	Direction() Direction

	// DoFinal runs the operation once. It fails unless the cipher was
	// authorized by a successful authentication.
	DoFinal(input []byte) ([]byte, error)

	// Release scrubs any key material held by the cipher
	Release()
}

// WrappingCipher is a single-use handle on a HardwareCipher. It becomes
// usable only after the gate has seen the authenticator hand it back.
type WrappingCipher struct {
	mu         sync.Mutex
	hw         HardwareCipher
	alias      string
	dir        Direction
	nonce      []byte
	authorized bool
	used       bool
	released   bool
}

func newWrappingCipher(hw HardwareCipher, nonce []byte) *WrappingCipher {
	return &WrappingCipher{
		hw:    hw,
		alias: hw.Alias(),
		dir:   hw.Direction(),
		nonce: nonce,
	}
}

// Alias returns the master key alias the cipher is bound to
func (c *WrappingCipher) Alias() string {
	return c.alias
}

// Direction returns the operation the cipher is bound to
func (c *WrappingCipher) Direction() Direction {
	return c.dir
}

// Nonce returns the nonce of a symmetric cipher, or nil
func (c *WrappingCipher) Nonce() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nonce == nil {
		return nil
	}
	return append([]byte(nil), c.nonce...)
}

// Hardware returns the underlying cipher to be presented to the authenticator
func (c *WrappingCipher) Hardware() HardwareCipher {
	return c.hw
}

// Authorized reports whether the gate authorized the cipher
func (c *WrappingCipher) Authorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized && !c.released
}

// authorize marks the cipher usable. hw must be the cipher this handle wraps.
func (c *WrappingCipher) authorize(hw HardwareCipher) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.used {
		return ErrCipherConsumed
	}
	if hw == nil || hw != c.hw {
		return ErrNotAuthenticated
	}
	c.authorized = true
	return nil
}

// Wrap encrypts an application key with the master key
func (c *WrappingCipher) Wrap(plaintext []byte) ([]byte, error) {
	return c.doFinal(DirectionWrap, plaintext)
}

// Unwrap decrypts a wrapped application key with the master key
func (c *WrappingCipher) Unwrap(wrapped []byte) ([]byte, error) {
	return c.doFinal(DirectionUnwrap, wrapped)
}

// Sign signs a digest with the asymmetric master key
func (c *WrappingCipher) Sign(digest []byte) ([]byte, error) {
	return c.doFinal(DirectionSign, digest)
}

func (c *WrappingCipher) doFinal(dir Direction, input []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.used {
		return nil, ErrCipherConsumed
	}
	if !c.authorized {
		return nil, ErrNotAuthenticated
	}
	if dir != c.dir {
		return nil, ErrWrongDirection
	}

	c.used = true
	return c.hw.DoFinal(input)
}

// Release scrubs the cipher. It is safe to call more than once.
func (c *WrappingCipher) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return
	}
	c.released = true
	c.authorized = false
	memguard.WipeBytes(c.nonce)
	c.hw.Release()
}
