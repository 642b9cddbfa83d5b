package biosecure

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"testing"
)

func TestECIES_RoundTrip(t *testing.T) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	plaintext := []byte("application key material")
	ct, err := eciesEncrypt(rand.Reader, priv.PublicKey(), plaintext)
	if err != nil {
		t.Fatalf("eciesEncrypt() error = %v", err)
	}
	if len(ct) != p256PointSize+NonceSize+len(plaintext)+TagSize {
		t.Errorf("ciphertext length = %d", len(ct))
	}

	got, err := eciesDecrypt(priv, ct)
	if err != nil {
		t.Fatalf("eciesDecrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("round trip mismatch")
	}

	other, _ := ecdh.P256().GenerateKey(rand.Reader)
	if _, err := eciesDecrypt(other, ct); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("eciesDecrypt() with wrong key error = %v, want ErrAuthFailed", err)
	}

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0x80
	if _, err := eciesDecrypt(priv, tampered); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("eciesDecrypt() of tampered ciphertext error = %v, want ErrAuthFailed", err)
	}

	if _, err := eciesDecrypt(priv, ct[:p256PointSize]); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("eciesDecrypt() of short ciphertext error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestX25519Seal_RoundTrip(t *testing.T) {
	priv, pub, err := generateX25519(rand.Reader)
	if err != nil {
		t.Fatalf("generateX25519() error = %v", err)
	}
	if len(priv) != x25519Size || len(pub) != x25519Size {
		t.Fatalf("key sizes = %d, %d", len(priv), len(pub))
	}
	if priv[0]&7 != 0 || priv[31]&128 != 0 || priv[31]&64 == 0 {
		t.Error("private key is not clamped")
	}

	secret := bytes.Repeat([]byte{0x5A}, KeySize)
	sealed, err := sealToX25519(rand.Reader, pub, secret)
	if err != nil {
		t.Fatalf("sealToX25519() error = %v", err)
	}

	got, err := openFromX25519(priv, sealed)
	if err != nil || !bytes.Equal(got, secret) {
		t.Fatalf("openFromX25519() = %x, %v", got, err)
	}

	otherPriv, _, _ := generateX25519(rand.Reader)
	if _, err := openFromX25519(otherPriv, sealed); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("openFromX25519() with wrong key error = %v, want ErrAuthFailed", err)
	}
	if _, err := openFromX25519(priv, sealed[:40]); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("openFromX25519() short input error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestPasscodeKey_SealOpen(t *testing.T) {
	pk := newPasscodeKey(fastArgon2)

	salt, err := pk.GenerateSalt(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	if len(salt) != 16 {
		t.Errorf("salt length = %d, want 16", len(salt))
	}

	sealed, err := pk.Seal(rand.Reader, []byte(testPasscode), salt, []byte("enrollment key"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	got, err := pk.Open([]byte(testPasscode), salt, sealed)
	if err != nil || string(got) != "enrollment key" {
		t.Fatalf("Open() = %q, %v", got, err)
	}
	if _, err := pk.Open([]byte("0000"), salt, sealed); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Open() with wrong passcode error = %v, want ErrAuthFailed", err)
	}
	if _, err := pk.DeriveKey(nil, salt); err == nil {
		t.Error("DeriveKey() with empty passcode should fail")
	}
	if _, err := pk.DeriveKey([]byte("x"), nil); err == nil {
		t.Error("DeriveKey() with empty salt should fail")
	}
}
