package commands

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"github.com/absfs/biosecure"
)

// FileConfig is the layout of config.toml
type FileConfig struct {
	Algorithm                 string       `toml:"algorithm"`
	Workers                   int          `toml:"workers"`
	MaxPendingAuthentications int          `toml:"max_pending_authentications"`
	ResetOnInvalidation       bool         `toml:"reset_on_invalidation"`
	Prompt                    PromptConfig `toml:"prompt"`
	Device                    DeviceConfig `toml:"device"`
}

// PromptConfig holds the texts of the authentication prompt
type PromptConfig struct {
	Title       string `toml:"title"`
	Subtitle    string `toml:"subtitle"`
	Description string `toml:"description"`
	CancelText  string `toml:"cancel_text"`
}

// DeviceConfig tunes the software device
type DeviceConfig struct {
	MaxAttempts       int    `toml:"max_attempts"`
	LockoutSeconds    int    `toml:"lockout_seconds"`
	Argon2MemoryKiB   uint32 `toml:"argon2_memory_kib"`
	Argon2Iterations  uint32 `toml:"argon2_iterations"`
	Argon2Parallelism uint8  `toml:"argon2_parallelism"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() FileConfig {
	return FileConfig{
		Algorithm:                 biosecure.AlgorithmSymmetric.String(),
		MaxPendingAuthentications: 4,
		Prompt: PromptConfig{
			Title:       "Unlock biosecure",
			Subtitle:    "Authenticate to access your secure storage",
			Description: "Enter your passcode",
			CancelText:  "Cancel",
		},
		Device: DeviceConfig{
			MaxAttempts:       5,
			LockoutSeconds:    30,
			Argon2MemoryKiB:   64 * 1024,
			Argon2Iterations:  3,
			Argon2Parallelism: 4,
		},
	}
}

// LoadConfig decodes path over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML
func SaveConfig(path string, cfg FileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeConfig(file, cfg)
}

func writeConfig(w io.Writer, cfg FileConfig) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// overrides are the config values that can also be set by flags
type overrides struct {
	algorithm string
	workers   int
	reset     bool
}

func (o *overrides) register(flags *pflag.FlagSet) {
	flags.StringVar(&o.algorithm, "algorithm", "", "wrapping algorithm: symmetric or asymmetric")
	flags.IntVar(&o.workers, "workers", 0, "crypto worker goroutines")
	flags.BoolVar(&o.reset, "reset-on-invalidation", false, "reset key material when the master key is invalidated")
}

// apply copies the flags that were set on the command line into cfg
func (o *overrides) apply(flags *pflag.FlagSet, cfg *FileConfig) {
	if flags.Changed("algorithm") {
		cfg.Algorithm = o.algorithm
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("reset-on-invalidation") {
		cfg.ResetOnInvalidation = o.reset
	}
}

func (c FileConfig) prompt() biosecure.PromptConfig {
	return biosecure.PromptConfig{
		Title:       c.Prompt.Title,
		Subtitle:    c.Prompt.Subtitle,
		Description: c.Prompt.Description,
		CancelText:  c.Prompt.CancelText,
	}
}

func (c FileConfig) deviceOptions() biosecure.DeviceOptions {
	return biosecure.DeviceOptions{
		MaxAttempts:   c.Device.MaxAttempts,
		LockoutPeriod: time.Duration(c.Device.LockoutSeconds) * time.Second,
		Argon2: biosecure.Argon2idParams{
			Memory:      c.Device.Argon2MemoryKiB,
			Iterations:  c.Device.Argon2Iterations,
			Parallelism: c.Device.Argon2Parallelism,
		},
	}
}
