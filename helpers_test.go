package biosecure

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/absfs/memfs"
)

const testPasscode = "2468"

// fastArgon2 keeps passcode derivation cheap in tests
var fastArgon2 = Argon2idParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}

// countingPrompt answers with a fixed passcode and counts prompts
type countingPrompt struct {
	passcode atomic.Value
	calls    atomic.Int32
}

func newCountingPrompt(passcode string) *countingPrompt {
	p := &countingPrompt{}
	p.passcode.Store(passcode)
	return p
}

func (p *countingPrompt) set(passcode string) {
	p.passcode.Store(passcode)
}

func (p *countingPrompt) ask(ctx context.Context, prompt PromptConfig) (string, error) {
	p.calls.Add(1)
	return p.passcode.Load().(string), nil
}

func newTestDevice(t *testing.T, prompt PasscodeFunc, enroll bool) *SoftwareDevice {
	t.Helper()

	device, err := NewSoftwareDevice(DeviceOptions{
		Store:  NewMemoryStore(),
		Prompt: prompt,
		Argon2: fastArgon2,
	})
	if err != nil {
		t.Fatalf("NewSoftwareDevice() error = %v", err)
	}
	if enroll {
		if err := device.Enroll(context.Background(), testPasscode); err != nil {
			t.Fatalf("Enroll() error = %v", err)
		}
	}
	return device
}

func newMemFileStore(t *testing.T) *FileStore {
	t.Helper()

	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create base filesystem: %v", err)
	}
	store, err := NewFileStore(base, "/files")
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

type testEnv struct {
	device  *SoftwareDevice
	prompt  *countingPrompt
	prefs   *MemoryStore
	files   *FileStore
	storage *Storage
}

func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()

	prompt := newCountingPrompt(testPasscode)
	env := &testEnv{
		device: newTestDevice(t, prompt.ask, true),
		prompt: prompt,
		prefs:  NewMemoryStore(),
		files:  newMemFileStore(t),
	}

	config := &Config{
		Keystore:      env.device,
		Authenticator: env.device,
		Preferences:   env.prefs,
		Files:         env.files,
		Workers:       2,
	}
	for _, fn := range configure {
		fn(config)
	}

	storage, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	env.storage = storage
	return env
}

func (e *testEnv) authenticate(t *testing.T) {
	t.Helper()

	ok, err := e.storage.Authenticate(context.Background(), PromptConfig{Title: "Unlock"})
	if err != nil || !ok {
		t.Fatalf("Authenticate() = %v, %v; want true, nil", ok, err)
	}
}
