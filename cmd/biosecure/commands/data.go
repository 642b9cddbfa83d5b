package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// input returns args[i] when present and the command's stdin otherwise
func input(cmd *cobra.Command, args []string, i int) ([]byte, error) {
	if len(args) > i {
		return []byte(args[i]), nil
	}
	return io.ReadAll(cmd.InOrStdin())
}

func (c *cli) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put ID [DATA]",
		Short: "Encrypt and store a value (reads stdin when DATA is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := input(cmd, args, 1)
			if err != nil {
				return err
			}
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := c.authenticate(ctx, cmd, e); err != nil {
					return err
				}
				if err := e.storage.EncryptAndSaveData(ctx, args[0], data); err != nil {
					return err
				}
				c.log.Infof("Stored %d bytes under %q", len(data), args[0])
				return nil
			})
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Load and decrypt a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := c.authenticate(ctx, cmd, e); err != nil {
					return err
				}
				data, err := e.storage.LoadAndDecryptData(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a stored value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := e.storage.DeleteData(ctx, args[0]); err != nil {
					return err
				}
				c.log.Infof("Deleted %q", args[0])
				return nil
			})
		},
	}
}

func (c *cli) putFileCmd() *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "put-file PATH [DATA]",
		Short: "Encrypt data into a file under the home files directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if in != "" {
				data, err = os.ReadFile(in)
			} else {
				data, err = input(cmd, args, 1)
			}
			if err != nil {
				return err
			}

			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := c.authenticate(ctx, cmd, e); err != nil {
					return err
				}
				if err := e.storage.EncryptAndSaveDataToFile(ctx, args[0], data); err != nil {
					return err
				}
				c.log.Infof("Wrote %d bytes to %s", len(data), args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "read the plaintext from this file")
	return cmd
}

func (c *cli) getFileCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get-file PATH",
		Short: "Decrypt a file under the home files directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := c.authenticate(ctx, cmd, e); err != nil {
					return err
				}
				data, err := e.storage.LoadFileAndDecryptData(ctx, args[0])
				if err != nil {
					return err
				}
				if out != "" {
					if err := os.WriteFile(out, data, 0600); err != nil {
						return fmt.Errorf("failed to write %s: %w", out, err)
					}
					c.log.Infof("Wrote %d bytes to %s", len(data), out)
					return nil
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the plaintext to this file instead of stdout")
	return cmd
}

func (c *cli) deleteFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-file PATH",
		Short: "Remove an encrypted file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := e.storage.DeleteFile(ctx, args[0]); err != nil {
					return err
				}
				c.log.Infof("Deleted %s", args[0])
				return nil
			})
		},
	}
}
