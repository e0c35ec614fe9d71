package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/imgclient"
	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/spf13/cobra"
)

type ctxKey string

const appCtxKey ctxKey = "appData"
const appConfigPathKey ctxKey = "appConfigPath"

func NewRootCommand() *cobra.Command {
	var appConfigPath string
	var serverAddrFlag string
	var logLevelFlag string

	rootCmd := &cobra.Command{
		Use:   "imgdrop",
		Short: "imgdrop uploads, lists and fetches images from an imgdrop server",
		Long:  `imgdrop talks to an imgdrop server over a reliable stop-and-wait UDP link. Images are stored per author and the server keeps a thumbnail next to each one.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadClientConfig(appConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load client config: %w", err)
			}

			if serverAddrFlag != "" {
				cfg.ServerAddr = serverAddrFlag
			}
			if logLevelFlag != "" {
				cfg.LogLevel = logLevelFlag
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in client config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			cfgPath := appConfigPath
			if strings.TrimSpace(cfgPath) == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				cfgPath = filepath.Join(home, ".imgdrop", "client_config.toml")
			}

			ctx := context.WithValue(cmd.Context(), appCtxKey, cfg)
			ctx = context.WithValue(ctx, appConfigPathKey, cfgPath)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&appConfigPath, "app-config", "", "Path to client config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&serverAddrFlag, "server", "", "Server address (host:port)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(UploadCommand())
	rootCmd.AddCommand(ListCommand())
	rootCmd.AddCommand(DownloadCommand())
	rootCmd.AddCommand(ViewCommand())
	rootCmd.AddCommand(WatchCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

// GetAppConfig returns the client config loaded by the root command.
func GetAppConfig(cmd *cobra.Command) *internal.ClientConfig {
	if v := cmd.Context().Value(appCtxKey); v != nil {
		if data, ok := v.(*internal.ClientConfig); ok {
			return data
		}
	}
	return nil
}

func getAppConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(appConfigPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}

func dialServer(cmd *cobra.Command) (*imgclient.Client, *metrics.TransferCollector, error) {
	cfg := GetAppConfig(cmd)
	if cfg == nil {
		return nil, nil, fmt.Errorf("client config unavailable")
	}
	collector := metrics.NewTransferCollector("")
	client, err := imgclient.Dial(cfg, collector)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", cfg.ServerAddr, err)
	}
	return client, collector, nil
}
