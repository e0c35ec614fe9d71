package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jgoldverg/imgdrop/cli/output"
	"github.com/jgoldverg/imgdrop/pkg/imgclient"
	"github.com/spf13/cobra"
)

type fetchFunc func(c *imgclient.Client, ctx context.Context, name, destDir string) (string, error)

func DownloadCommand() *cobra.Command {
	return fetchCommand("download <filename>", "Download an image from the server", []string{"get", "d"}, (*imgclient.Client).Download)
}

func ViewCommand() *cobra.Command {
	return fetchCommand("view <filename>", "Fetch the thumbnail of an image as thumb_<filename>", []string{"thumb", "v"}, (*imgclient.Client).View)
}

func fetchCommand(use, short string, aliases []string, fetch fetchFunc) *cobra.Command {
	var destDir string
	var showMetrics bool
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Aliases: aliases,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("filename must not be empty")
			}
			dest := destDir
			if dest == "" {
				if cfg := GetAppConfig(cmd); cfg != nil {
					dest = cfg.DownloadDir
				}
			}
			if dest == "" {
				dest = "."
			}
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}

			client, collector, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			progress := output.NewChunkProgress(name)
			client.SetProgress(progress.Func())
			path, err := fetch(client, cmd.Context(), name, dest)
			progress.Stop()
			if err != nil {
				return err
			}

			output.NewPrinter(false).Success("saved", map[string]any{
				"path": path,
			})
			if showMetrics {
				output.NewMetricsDisplay("Transfer Metrics", collector).Print()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&destDir, "dest", "", "Destination directory (defaults to the client config download_dir)")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print link statistics when done")
	return cmd
}
