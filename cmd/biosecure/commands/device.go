package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (c *cli) enrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a passcode on the software device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				enrolled, err := e.device.Enrolled(ctx)
				if err != nil {
					return err
				}
				if enrolled {
					return errors.New("device is already enrolled (use reenroll to change the passcode)")
				}

				passcode, err := e.passcode.Passcode("New passcode")
				if err != nil {
					return err
				}
				if err := e.device.Enroll(ctx, passcode); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Device enrolled")
				return nil
			})
		},
	}
}

func (c *cli) reenrollCmd() *cobra.Command {
	var next string

	cmd := &cobra.Command{
		Use:   "reenroll",
		Short: "Change the enrolled passcode",
		Long: `Change the enrolled passcode. Like adding a fingerprint on a phone, this
invalidates the master key that wraps the application key: stored data can
no longer be read until the storage is reset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				current, err := e.passcode.Passcode("Current passcode")
				if err != nil {
					return err
				}
				if next == "" {
					fresh := &passcodeSource{stderr: e.passcode.stderr, getenv: func(string) string { return "" }, readTerminal: c.readTerminal}
					if next, err = fresh.Passcode("New passcode"); err != nil {
						return err
					}
				}
				if err := e.device.Reenroll(ctx, current, next); err != nil {
					return err
				}

				gen, err := e.device.Generation(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Device re-enrolled (generation %d)\n", color.GreenString("✓"), gen)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&next, "new-passcode", "", "the new passcode (default prompt)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the device and storage state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				enrolled, err := e.device.Enrolled(ctx)
				if err != nil {
					return err
				}
				var gen uint32
				if enrolled {
					if gen, err = e.device.Generation(ctx); err != nil {
						return err
					}
				}
				avail, err := e.storage.IsBiometricsAvailable(ctx)
				if err != nil {
					return err
				}
				setup, err := e.storage.IsAppLocked(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Home:        %s\n", c.home)
				fmt.Fprintf(out, "Enrolled:    %t\n", enrolled)
				if enrolled {
					fmt.Fprintf(out, "Generation:  %d\n", gen)
				}
				if avail.Available {
					fmt.Fprintf(out, "Biometrics:  available (%s)\n", avail.Type)
				} else {
					fmt.Fprintf(out, "Biometrics:  unavailable (%s)\n", avail.Error)
				}
				fmt.Fprintf(out, "Set up:      %t\n", setup)
				fmt.Fprintf(out, "Algorithm:   %s\n", c.config.Algorithm)
				return nil
			})
		},
	}
}
