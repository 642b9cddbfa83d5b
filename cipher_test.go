package biosecure

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	plaintexts := [][]byte{
		{},
		[]byte("a"),
		[]byte("hello-world"),
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}

	for _, pt := range plaintexts {
		nonce, err := GenerateNonce(NonceSize)
		if err != nil {
			t.Fatalf("GenerateNonce() error = %v", err)
		}

		ct, err := EncryptData(pt, key, nonce)
		if err != nil {
			t.Fatalf("EncryptData() error = %v", err)
		}
		if len(ct) != len(pt)+TagSize {
			t.Errorf("ciphertext length = %d, want %d", len(ct), len(pt)+TagSize)
		}

		got, err := DecryptData(ct, key, nonce)
		if err != nil {
			t.Fatalf("DecryptData() error = %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Errorf("round trip mismatch for %d-byte plaintext", len(pt))
		}
	}
}

func TestDecryptDetectsEveryByteMutation(t *testing.T) {
	key := testKey(t)
	nonce, _ := GenerateNonce(NonceSize)

	ct, err := EncryptData([]byte("hello-world"), key, nonce)
	if err != nil {
		t.Fatalf("EncryptData() error = %v", err)
	}

	for i := range ct {
		tampered := append([]byte(nil), ct...)
		tampered[i] ^= 0x01

		_, err := DecryptData(tampered, key, nonce)
		if !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("byte %d: DecryptData() error = %v, want ErrAuthFailed", i, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	nonce, _ := GenerateNonce(NonceSize)
	ct, _ := EncryptData([]byte("secret"), testKey(t), nonce)

	if _, err := DecryptData(ct, testKey(t), nonce); KindOf(err) != KindAuthenticationTag {
		t.Errorf("DecryptData() with wrong key kind = %v, want %v", KindOf(err), KindAuthenticationTag)
	}
}

func TestEncryptDataInvalidParameters(t *testing.T) {
	key := testKey(t)
	nonce, _ := GenerateNonce(NonceSize)

	tests := []struct {
		name  string
		key   []byte
		nonce []byte
	}{
		{"short key", key[:16], nonce},
		{"nil key", nil, nonce},
		{"12-byte nonce", key, nonce[:12]},
		{"nil nonce", key, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncryptData([]byte("x"), tt.key, tt.nonce)
			if !IsValidationError(err) {
				t.Errorf("EncryptData() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestSealOpenBlob(t *testing.T) {
	engine, err := NewAESGCMEngine(testKey(t))
	if err != nil {
		t.Fatalf("NewAESGCMEngine() error = %v", err)
	}

	blob, err := sealBlob(engine, rand.Reader, []byte("payload"))
	if err != nil {
		t.Fatalf("sealBlob() error = %v", err)
	}
	if len(blob) != NonceSize+len("payload")+TagSize {
		t.Errorf("blob length = %d", len(blob))
	}

	got, err := openBlob(engine, blob)
	if err != nil || string(got) != "payload" {
		t.Fatalf("openBlob() = %q, %v", got, err)
	}

	// two seals of the same plaintext never share a nonce
	other, _ := sealBlob(engine, rand.Reader, []byte("payload"))
	if bytes.Equal(blob[:NonceSize], other[:NonceSize]) {
		t.Error("sealBlob() reused a nonce")
	}

	if _, err := openBlob(engine, blob[:NonceSize-1]); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("openBlob() short blob error = %v, want ErrCiphertextTooShort", err)
	}
	if _, err := openBlob(engine, blob[:NonceSize]); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("openBlob() nonce-only blob error = %v, want ErrAuthFailed", err)
	}
}

func TestGenerateNonceFromFailingReader(t *testing.T) {
	_, err := generateNonceFrom(bytes.NewReader([]byte{1, 2, 3}), NonceSize)
	if err == nil {
		t.Fatal("generateNonceFrom() with short reader should fail")
	}
	if _, err := GenerateNonce(0); !IsValidationError(err) {
		t.Errorf("GenerateNonce(0) error = %v, want ValidationError", err)
	}
}
