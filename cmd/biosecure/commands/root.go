package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/absfs/biosecure"
)

// HomeEnv overrides the default home directory
const HomeEnv = "BIOSECURE_HOME"

// cli holds the state shared by the subcommands of one invocation
type cli struct {
	home       string
	configPath string
	passcode   string
	verbose    bool
	debug      bool
	overrides  overrides

	log    Logger
	config FileConfig
	getenv func(string) string

	// readTerminal replaces the terminal in tests
	readTerminal func() ([]byte, error)
}

// Execute runs the biosecure CLI with os.Args
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	c := &cli{getenv: os.Getenv}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "biosecure",
		Short:         "Biometric-gated secure local storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.log = Logger{Verbose: c.verbose, Debug: c.debug, Out: cmd.ErrOrStderr(), Err: cmd.ErrOrStderr()}
			return c.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.home, "home", "", "data directory (default $"+HomeEnv+" or ~/.biosecure)")
	flags.StringVar(&c.configPath, "config", "", "config file (default <home>/config.toml)")
	flags.StringVarP(&c.passcode, "passcode", "p", "", "device passcode (default $"+PasscodeEnv+" or prompt)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&c.debug, "debug", "d", false, "enable debug output")
	c.overrides.register(flags)

	root.AddCommand(
		c.enrollCmd(),
		c.reenrollCmd(),
		c.statusCmd(),
		c.putCmd(),
		c.getCmd(),
		c.deleteCmd(),
		c.putFileCmd(),
		c.getFileCmd(),
		c.deleteFileCmd(),
		c.signCmd(),
		c.verifyCmd(),
		c.resetCmd(),
		c.configCmd(),
	)

	return root
}

// init resolves the home directory and loads the configuration
func (c *cli) init(cmd *cobra.Command) error {
	if c.home == "" {
		c.home = c.getenv(HomeEnv)
	}
	if c.home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.home = filepath.Join(dir, ".biosecure")
	}
	if c.configPath == "" {
		c.configPath = filepath.Join(c.home, "config.toml")
	}
	c.log.Debugf("Home: %s, config: %s", c.home, c.configPath)

	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return c.log.ErrorfAndReturn("failed to load config %s: %v", c.configPath, err)
	}
	c.overrides.apply(cmd.Flags(), &cfg)
	c.config = cfg
	return nil
}

func (c *cli) passcodes(cmd *cobra.Command) *passcodeSource {
	return &passcodeSource{
		flag:         c.passcode,
		getenv:       c.getenv,
		stderr:       cmd.ErrOrStderr(),
		readTerminal: c.readTerminal,
	}
}

// env is an opened home directory
type env struct {
	device   *biosecure.SoftwareDevice
	storage  *biosecure.Storage
	prompt   biosecure.PromptConfig
	passcode *passcodeSource
	closers  []io.Closer
}

func (e *env) Close() error {
	var first error
	if e.storage != nil {
		e.storage.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// open opens the device and the storage under the home directory
func (c *cli) open(cmd *cobra.Command) (*env, error) {
	if err := os.MkdirAll(c.home, 0700); err != nil {
		return nil, err
	}

	alg, err := biosecure.ParseKeyAlgorithm(c.config.Algorithm)
	if err != nil {
		return nil, err
	}

	e := &env{prompt: c.config.prompt(), passcode: c.passcodes(cmd)}

	deviceDB, err := biosecure.OpenSQLiteStore(filepath.Join(c.home, "device.db"))
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, deviceDB)

	prefs, err := biosecure.OpenSQLiteStore(filepath.Join(c.home, "prefs.db"))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.closers = append(e.closers, prefs)

	base, err := biosecure.NewDirFS(filepath.Join(c.home, "files"))
	if err != nil {
		e.Close()
		return nil, err
	}
	files, err := biosecure.NewFileStore(base, "/")
	if err != nil {
		e.Close()
		return nil, err
	}

	opts := c.config.deviceOptions()
	opts.Store = deviceDB
	opts.Prompt = e.passcode.Prompt
	opts.Logger = c.log.Library()
	if e.device, err = biosecure.NewSoftwareDevice(opts); err != nil {
		e.Close()
		return nil, err
	}

	e.storage, err = biosecure.New(&biosecure.Config{
		Keystore:                  e.device,
		Authenticator:             e.device,
		Preferences:               prefs,
		Files:                     files,
		Algorithm:                 alg,
		Workers:                   c.config.Workers,
		MaxPendingAuthentications: c.config.MaxPendingAuthentications,
		ResetOnInvalidation:       c.config.ResetOnInvalidation,
		Logger:                    c.log.Library(),
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	c.log.Debugf("Opened storage (algorithm=%s)", alg)
	return e, nil
}

// withEnv runs fn with an opened environment and closes it afterwards
func (c *cli) withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	e, err := c.open(cmd)
	if err != nil {
		return c.fail(cmd, err)
	}
	defer e.Close()

	if err := fn(cmd.Context(), e); err != nil {
		return c.fail(cmd, err)
	}
	return nil
}

// authenticate unlocks the storage, showing a spinner when no terminal
// prompt is needed
func (c *cli) authenticate(ctx context.Context, cmd *cobra.Command, e *env) error {
	var stop func()
	if !e.passcode.interactive() {
		stop = startSpinner("Waiting for authentication...", c.log, cmd.ErrOrStderr())
	}
	ok, err := e.storage.Authenticate(ctx, e.prompt)
	if stop != nil {
		stop()
	}
	if !ok {
		return err
	}
	c.log.Infof("Authenticated")
	return nil
}

// fail prints err with a hint for its kind and returns it
func (c *cli) fail(cmd *cobra.Command, err error) error {
	msg := color.RedString("✗") + " " + describe(err)
	if h := hint(err); h != "" {
		msg += "\n" + color.CyanString("→") + " " + h
	}
	fmt.Fprintln(cmd.ErrOrStderr(), msg)
	c.log.Debugf("error: %v", err)
	return err
}

// describe renders err for users by its kind
func describe(err error) string {
	switch biosecure.KindOf(err) {
	case biosecure.KindCapabilityUnavailable:
		return "Biometric authentication is unavailable: " + err.Error()
	case biosecure.KindAuthenticationFailed:
		return "Authentication failed"
	case biosecure.KindAuthenticationCanceled:
		return "Authentication cancelled"
	case biosecure.KindLockout:
		return "Too many failed attempts, try again later"
	case biosecure.KindKeyInvalidated:
		return "The master key was invalidated by an enrollment change"
	case biosecure.KindKeyUnwrap:
		return "The application key could not be unwrapped"
	case biosecure.KindAuthenticationTag:
		return "Stored data is corrupted or was encrypted under another key"
	case biosecure.KindNotFound:
		return "No such entry"
	case biosecure.KindNotUnlocked:
		return "Storage is locked"
	case biosecure.KindGateBusy:
		return "Too many authentications are waiting, try again"
	default:
		return err.Error()
	}
}

func hint(err error) string {
	var capErr *biosecure.CapabilityError
	switch biosecure.KindOf(err) {
	case biosecure.KindCapabilityUnavailable:
		if errors.As(err, &capErr) && capErr.Code == biosecure.AvailabilityNoneEnrolled {
			return "Run " + color.YellowString("biosecure enroll") + " first"
		}
	case biosecure.KindKeyInvalidated:
		return "Run " + color.YellowString("biosecure reset") + " to start over"
	}
	return ""
}
