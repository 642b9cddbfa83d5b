package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errInvalidSignature = errors.New("signature is not valid")

func (c *cli) signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign [DATA]",
		Short: "Sign data with the device key and print the base64 signature",
		Long: `Sign data with the asymmetric master key. Every signature needs its own
authentication. Reads stdin when DATA is omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := input(cmd, args, 0)
			if err != nil {
				return err
			}
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				stop := func() {}
				if !e.passcode.interactive() {
					stop = startSpinner("Waiting for authentication...", c.log, cmd.ErrOrStderr())
				}
				sig, err := e.storage.SignData(ctx, e.prompt, data)
				stop()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(sig))
				return nil
			})
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify DATA SIGNATURE",
		Short: "Verify a base64 signature produced by sign",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := base64.StdEncoding.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("signature is not base64: %w", err)
			}
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				ok, err := e.storage.VerifySignature(ctx, []byte(args[0]), sig)
				if err != nil {
					return err
				}
				if !ok {
					return errInvalidSignature
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Signature is valid")
				return nil
			})
		},
	}
}
