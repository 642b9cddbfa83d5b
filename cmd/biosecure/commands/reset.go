package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (c *cli) resetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Destroy all key material",
		Long: `Destroy the application key, its wrapping nonce and the master keys.
Everything stored before the reset becomes unreadable. The enrollment is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return c.fail(cmd, errors.New("reset destroys all stored data, pass --force to confirm"))
			}
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := e.storage.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Key material destroyed")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "confirm the reset")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeConfig(cmd.OutOrStdout(), c.config)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(c.configPath); err == nil && !force {
				return c.fail(cmd, fmt.Errorf("%s already exists, pass --force to overwrite", c.configPath))
			}
			if err := SaveConfig(c.configPath, DefaultConfig()); err != nil {
				return c.fail(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", color.GreenString("✓"), c.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}
