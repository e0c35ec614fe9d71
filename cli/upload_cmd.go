package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jgoldverg/imgdrop/cli/output"
	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/command"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type UploadCommandOpts struct {
	Author      string
	ShowMetrics bool
}

func UploadCommand() *cobra.Command {
	opts := &UploadCommandOpts{}
	cmd := &cobra.Command{
		Use:     "upload <path>...",
		Short:   "Upload one or more images to the server",
		Aliases: []string{"up", "u"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			author := resolveAuthor(cmd, opts.Author)
			client, collector, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			printer := output.NewPrinter(false)
			failed := 0
			for _, path := range args {
				progress := output.NewChunkProgress(filepath.Base(path))
				client.SetProgress(progress.Func())
				msg, err := client.UploadFile(cmd.Context(), path, author)
				progress.Stop()
				if err != nil {
					failed++
					printer.Error("upload failed", map[string]any{
						"file":  path,
						"error": err.Error(),
					})
					internal.Debug("upload failed", internal.Fields{
						internal.FieldFilename: path,
						internal.FieldError:    err.Error(),
					})
					continue
				}
				printer.Success(msg, map[string]any{
					"file":   filepath.Base(path),
					"author": author,
				})
			}

			if opts.ShowMetrics {
				output.NewMetricsDisplay("Upload Metrics", collector).Print()
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Author, "author", "", "Author name stored with the upload (defaults to the client config author)")
	cmd.Flags().BoolVar(&opts.ShowMetrics, "metrics", false, "Print link statistics when done")
	return cmd
}

// resolveAuthor prefers the flag, then the config, then the anonymous author.
func resolveAuthor(cmd *cobra.Command, flagAuthor string) string {
	if a := strings.TrimSpace(flagAuthor); a != "" {
		return a
	}
	if cfg := GetAppConfig(cmd); cfg != nil {
		if a := strings.TrimSpace(cfg.Author); a != "" {
			return a
		}
	}
	pterm.Debug.Println("no author configured, using", command.DefaultAuthor)
	return command.DefaultAuthor
}
