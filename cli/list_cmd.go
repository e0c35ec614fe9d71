package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jgoldverg/imgdrop/cli/output"
	"github.com/spf13/cobra"
)

func ListCommand() *cobra.Command {
	var format string
	var raw bool
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List the images stored on the server",
		Aliases: []string{"ls", "l"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if raw {
				reply, err := client.ListRaw(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			}

			records, err := client.List(cmd.Context())
			if err != nil {
				return err
			}
			return output.WriteCatalog(os.Stdout, strings.ToLower(strings.TrimSpace(format)), records)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", output.FormatTable, "Output format: table, yaml or toml")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the server reply as received")
	return cmd
}
