package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jgoldverg/imgdrop/backend/catalog"
	"github.com/jgoldverg/imgdrop/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigCommand() *cobra.Command {
	var serverConfigPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update imgdrop configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&serverConfigPath, "server-config", "", "Path to the imgdrop server config file")
	cmd.AddCommand(configSetCommand(&serverConfigPath))
	return cmd
}

type clientSetFlags struct {
	serverAddr  string
	author      string
	downloadDir string
	timeoutMs   int
	chunkSize   int
	maxRetries  int
}

type serverSetFlags struct {
	port           int
	baseDir        string
	catalogBackend string
	catalogFile    string
	redisAddr      string
	thumbSize      int
	timeoutMs      int
	followUpMs     int
	concurrent     bool
	metricsAddr    string
	logLevel       string
}

func configSetCommand(serverConfigPath *string) *cobra.Command {
	var target string
	var c clientSetFlags
	var s serverSetFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the client (app) or server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := strings.ToLower(strings.TrimSpace(target))
			if scope == "" {
				scope = "client"
			}
			switch scope {
			case "client":
				return updateClientConfig(cmd, cmd.Flags(), c)
			case "server":
				s.timeoutMs = c.timeoutMs
				return updateServerConfig(*serverConfigPath, cmd.Flags(), s)
			default:
				return fmt.Errorf("--target must be either client or server")
			}
		},
	}

	cmd.Flags().StringVar(&target, "target", "client", "Which config to update: client or server")
	cmd.Flags().StringVar(&c.serverAddr, "server-addr", "", "Client mode: default server address (host:port)")
	cmd.Flags().StringVar(&c.author, "author", "", "Client mode: default upload author")
	cmd.Flags().StringVar(&c.downloadDir, "download-dir", "", "Client mode: directory for downloads and thumbnails")
	cmd.Flags().IntVar(&c.timeoutMs, "timeout-ms", 0, "Packet timeout in milliseconds (client or server)")
	cmd.Flags().IntVar(&c.chunkSize, "chunk-size", 0, "Client mode: chunk payload size in bytes")
	cmd.Flags().IntVar(&c.maxRetries, "max-retries", 0, "Client mode: retransmission limit per chunk, 0 retries forever")

	cmd.Flags().IntVar(&s.port, "listen-port", 0, "Server mode: UDP listen port")
	cmd.Flags().StringVar(&s.baseDir, "base-dir", "", "Server mode: image storage root")
	cmd.Flags().StringVar(&s.catalogBackend, "catalog-backend", "", "Server mode: catalog backend (toml or redis)")
	cmd.Flags().StringVar(&s.catalogFile, "catalog-file", "", "Server mode: TOML catalog path")
	cmd.Flags().StringVar(&s.redisAddr, "redis-addr", "", "Server mode: redis address for the redis catalog")
	cmd.Flags().IntVar(&s.thumbSize, "thumb-size", 0, "Server mode: longest thumbnail side in pixels")
	cmd.Flags().IntVar(&s.followUpMs, "followup-timeout-ms", 0, "Server mode: wait for upload bodies and READY, 0 waits forever")
	cmd.Flags().BoolVar(&s.concurrent, "concurrent", false, "Server mode: serve each client address in its own session")
	cmd.Flags().StringVar(&s.metricsAddr, "metrics-addr", "", "Server mode: prometheus listen address, empty disables")
	cmd.Flags().StringVar(&s.logLevel, "server-log-level", "", "Server mode: log level (info, debug, ...)")
	return cmd
}

func updateClientConfig(cmd *cobra.Command, flagSet *pflag.FlagSet, f clientSetFlags) error {
	cfg := GetAppConfig(cmd)
	if cfg == nil {
		return fmt.Errorf("client config unavailable")
	}
	if err := applyClientFlags(cfg, flagSet, f); err != nil {
		return err
	}

	path := getAppConfigPath(cmd)
	if _, err := cfg.Save(path); err != nil {
		return fmt.Errorf("saving CLI config: %w", err)
	}
	internal.Info("CLI configuration updated", internal.Fields{
		internal.FieldServer: cfg.ServerAddr,
		internal.FieldAuthor: cfg.Author,
		internal.ConfigPath:  path,
	})
	return nil
}

func applyClientFlags(cfg *internal.ClientConfig, flagSet *pflag.FlagSet, f clientSetFlags) error {
	changed := false
	if flagSet.Changed("server-addr") {
		if strings.TrimSpace(f.serverAddr) == "" {
			return fmt.Errorf("server address must not be empty")
		}
		cfg.ServerAddr = strings.TrimSpace(f.serverAddr)
		changed = true
	}
	if flagSet.Changed("author") {
		cfg.Author = strings.TrimSpace(f.author)
		changed = true
	}
	if flagSet.Changed("download-dir") {
		cfg.DownloadDir = f.downloadDir
		changed = true
	}
	if flagSet.Changed("timeout-ms") {
		if f.timeoutMs <= 0 {
			return fmt.Errorf("packet timeout must be > 0")
		}
		cfg.PacketTimeoutMs = f.timeoutMs
		changed = true
	}
	if flagSet.Changed("chunk-size") {
		if f.chunkSize <= 0 {
			return fmt.Errorf("chunk size must be > 0")
		}
		cfg.ChunkSize = f.chunkSize
		changed = true
	}
	if flagSet.Changed("max-retries") {
		if f.maxRetries < 0 {
			return fmt.Errorf("max retries must be >= 0")
		}
		cfg.MaxRetries = f.maxRetries
		changed = true
	}
	if !changed {
		return fmt.Errorf("client config: no client settings given")
	}
	return nil
}

func updateServerConfig(cfgPath string, flagSet *pflag.FlagSet, f serverSetFlags) error {
	path := strings.TrimSpace(cfgPath)
	if path == "" {
		path = defaultServerConfigPath()
	}

	if err := ensureServerConfigFile(path); err != nil {
		return err
	}

	cfg, err := internal.LoadServerConfig(path)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}
	if err := applyServerFlags(cfg, flagSet, f); err != nil {
		return err
	}

	if _, err := cfg.Save(path); err != nil {
		return fmt.Errorf("saving server config: %w", err)
	}
	internal.Info("Server configuration updated", internal.Fields{
		internal.ConfigPath: path,
	})
	return nil
}

func applyServerFlags(cfg *internal.ServerConfig, flagSet *pflag.FlagSet, f serverSetFlags) error {
	if flagSet.Changed("listen-port") {
		if f.port <= 0 || f.port > 65535 {
			return fmt.Errorf("server port must be between 1 and 65535")
		}
		cfg.Port = f.port
	}
	if flagSet.Changed("base-dir") {
		cfg.BaseDir = f.baseDir
	}
	if flagSet.Changed("catalog-backend") {
		backend := strings.ToLower(strings.TrimSpace(f.catalogBackend))
		if backend != catalog.BackendToml && backend != catalog.BackendRedis {
			return fmt.Errorf("catalog backend must be %s or %s", catalog.BackendToml, catalog.BackendRedis)
		}
		cfg.CatalogBackend = backend
	}
	if flagSet.Changed("catalog-file") {
		cfg.CatalogFile = f.catalogFile
	}
	if flagSet.Changed("redis-addr") {
		cfg.RedisAddr = f.redisAddr
	}
	if flagSet.Changed("thumb-size") {
		if f.thumbSize <= 0 {
			return fmt.Errorf("thumbnail size must be > 0")
		}
		cfg.ThumbSize = f.thumbSize
	}
	if flagSet.Changed("timeout-ms") {
		if f.timeoutMs <= 0 {
			return fmt.Errorf("packet timeout must be > 0")
		}
		cfg.PacketTimeoutMs = f.timeoutMs
	}
	if flagSet.Changed("followup-timeout-ms") {
		if f.followUpMs < 0 {
			return fmt.Errorf("follow-up timeout must be >= 0")
		}
		cfg.FollowUpTimeoutMs = f.followUpMs
	}
	if flagSet.Changed("concurrent") {
		cfg.ConcurrentSessions = f.concurrent
	}
	if flagSet.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if flagSet.Changed("server-log-level") {
		cfg.LogLevel = f.logLevel
	}
	return nil
}

func defaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "server_config.toml"
	}
	return filepath.Join(home, ".imgdrop", "server_config.toml")
}

func ensureServerConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat server config: %w", err)
	}

	defaultCfg, err := internal.LoadServerConfig(path)
	if err != nil {
		return fmt.Errorf("load default server config: %w", err)
	}
	if _, err := defaultCfg.Save(path); err != nil {
		return fmt.Errorf("create server config: %w", err)
	}
	return nil
}
