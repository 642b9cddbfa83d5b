// Package biosecure provides biometric-gated secure local storage using
// envelope encryption.
//
// # Overview
//
// A per-install 256-bit application key encrypts caller data with
// AES-256-GCM. The application key is itself wrapped by a master key held in
// a platform Keystore, and the master key can only be used after the
// platform Authenticator completes a biometric (or device-credential)
// ceremony that authorizes the wrapping cipher.
//
// # Key Hierarchy
//
//   - Master keys live in the Keystore under the aliases
//     SYMMETRIC_MASTER_KEY (AES-256-GCM) and ASYMMETRIC_MASTER_KEY (P-256).
//     They require user authentication and are invalidated when the enrolled
//     biometric set changes.
//   - The application key is persisted only in wrapped form, hex-encoded
//     under the preference entry ApplicationKey. The nonce of a symmetric
//     wrap is stored under KeyStoreIV.
//   - Caller data is stored as nonce || ciphertext+tag: base64 in the
//     preference store, raw bytes in the file store.
//
// # Basic Usage
//
//	device, _ := biosecure.NewSoftwareDevice(biosecure.DeviceOptions{
//	    Store:  biosecure.NewMemoryStore(),
//	    Prompt: askPasscode,
//	})
//	_ = device.Enroll(ctx, "1234")
//
//	storage, err := biosecure.New(&biosecure.Config{
//	    Keystore:      device,
//	    Authenticator: device,
//	    Preferences:   biosecure.NewMemoryStore(),
//	    Files:         biosecure.NewMemoryStore(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer storage.Close()
//
//	ok, err := storage.Authenticate(ctx, biosecure.PromptConfig{Title: "Unlock"})
//	if !ok {
//	    log.Fatal(biosecure.KindOf(err), err)
//	}
//	_ = storage.EncryptAndSaveData(ctx, "token", []byte("hello-world"))
//
// # Invalidation
//
// When the enrolled biometric set changes, the master keys become unusable
// and Authenticate returns an error of kind KindKeyInvalidated. Data wrapped
// under the old keys cannot be recovered; call Reset, or set
// Config.ResetOnInvalidation, and authenticate again.
//
// # Concurrency
//
// Storage is safe for concurrent use. Authentication sessions run one at a
// time; Config.MaxPendingAuthentications bounds waiting callers. Crypto work
// runs on a bounded worker pool.
package biosecure
