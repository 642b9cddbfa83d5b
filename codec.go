package biosecure

import (
	"context"
	"encoding/base64"
)

// blobEncoding turns encrypted blobs into the bytes a store holds
type blobEncoding interface {
	encode(blob []byte) []byte
	decode(stored []byte) ([]byte, error)
}

// base64Encoding stores blobs as standard base64 text, used for preferences
type base64Encoding struct{}

func (base64Encoding) encode(blob []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(blob)))
	base64.StdEncoding.Encode(out, blob)
	return out
}

func (base64Encoding) decode(stored []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(stored)))
	n, err := base64.StdEncoding.Decode(out, stored)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// rawEncoding stores blobs unchanged, used for files
type rawEncoding struct{}

func (rawEncoding) encode(blob []byte) []byte { return blob }

func (rawEncoding) decode(stored []byte) ([]byte, error) { return stored, nil }

// Codec encrypts caller data under the resident application key and moves
// it to and from one store.
type Codec struct {
	keys     *KeyManager
	store    BytesStore
	encoding blobEncoding
	pool     *workerPool
	validate func(id string) error
}

func newPreferenceCodec(keys *KeyManager, store BytesStore, pool *workerPool) *Codec {
	return &Codec{keys: keys, store: store, encoding: base64Encoding{}, pool: pool, validate: ValidateIdentifier}
}

func newFileCodec(keys *KeyManager, store BytesStore, pool *workerPool) *Codec {
	return &Codec{keys: keys, store: store, encoding: rawEncoding{}, pool: pool, validate: ValidateFilePath}
}

// EncryptAndSave encrypts data and stores it under id
func (c *Codec) EncryptAndSave(ctx context.Context, id string, data []byte) error {
	if err := c.validate(id); err != nil {
		return err
	}

	blob, err := c.pool.Run(ctx, func() ([]byte, error) {
		return c.keys.Encrypt(data)
	})
	if err != nil {
		return err
	}

	return c.store.Put(ctx, id, c.encoding.encode(blob))
}

// LoadAndDecrypt reads the entry under id and decrypts it
func (c *Codec) LoadAndDecrypt(ctx context.Context, id string) ([]byte, error) {
	if err := c.validate(id); err != nil {
		return nil, err
	}
	if !c.keys.IsResident() {
		return nil, ErrNotUnlocked
	}

	stored, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	blob, err := c.encoding.decode(stored)
	if err != nil {
		return nil, NewCorruptionError(id, err)
	}

	return c.pool.Run(ctx, func() ([]byte, error) {
		return c.keys.Decrypt(blob)
	})
}

// Delete removes the entry under id
func (c *Codec) Delete(ctx context.Context, id string) error {
	if err := c.validate(id); err != nil {
		return err
	}
	return c.store.Delete(ctx, id)
}
