package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	DefaultPort              = 5000
	DefaultPacketTimeoutMs   = 2000
	DefaultFollowUpTimeoutMs = 30000
	DefaultChunkSize         = 1024
	DefaultThumbSize         = 128
)

type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	BaseDir            string `mapstructure:"base_dir"`
	CatalogBackend     string `mapstructure:"catalog_backend"`
	CatalogFile        string `mapstructure:"catalog_file"`
	RedisAddr          string `mapstructure:"redis_addr"`
	RedisKey           string `mapstructure:"redis_key"`
	ThumbSize          int    `mapstructure:"thumb_size"`
	PacketTimeoutMs    int    `mapstructure:"packet_timeout_ms"`
	FollowUpTimeoutMs  int    `mapstructure:"followup_timeout_ms"`
	ChunkSize          int    `mapstructure:"chunk_size"`
	ConcurrentSessions bool   `mapstructure:"concurrent_sessions"`
	SessionTTL         int    `mapstructure:"session_ttl"`
	SessionScan        int    `mapstructure:"session_scan"`
	MetricsAddr        string `mapstructure:"metrics_addr"`
	ServerId           string `mapstructure:"server_id"`
	LogLevel           string `mapstructure:"log_level"`
	UDPReadBufferSize  int    `mapstructure:"udp_read_buffer_size"`
	UDPWriteBufferSize int    `mapstructure:"udp_write_buffer_size"`
}

type ClientConfig struct {
	ServerAddr      string `mapstructure:"server_addr"`
	Author          string `mapstructure:"author"`
	DownloadDir     string `mapstructure:"download_dir"`
	PacketTimeoutMs int    `mapstructure:"packet_timeout_ms"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
	ClientUuid      string `mapstructure:"client_uuid"`
	LogLevel        string `mapstructure:"log_level"`
}

func (cfg *ServerConfig) PacketTimeout() time.Duration {
	return msOrDefault(cfg.PacketTimeoutMs)
}

// FollowUpTimeout bounds the wait for an upload body or a READY after the
// server has answered a command. Zero waits until shutdown.
func (cfg *ServerConfig) FollowUpTimeout() time.Duration {
	if cfg.FollowUpTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(cfg.FollowUpTimeoutMs) * time.Millisecond
}

func (cfg *ClientConfig) PacketTimeout() time.Duration {
	return msOrDefault(cfg.PacketTimeoutMs)
}

func (cfg *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New("failed to load users home directory: " + err.Error())
	}
	v, err := initViper(configPath, filepath.Join(home, ".imgdrop"), "server_config", "toml", "IMGDROP_SERVER")
	if err != nil {
		return nil, errors.New("failed to load server config: " + err.Error())
	}
	applyServerDefaults(v, home)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.BaseDir = expandPath(cfg.BaseDir)
	cfg.CatalogFile = expandPath(cfg.CatalogFile)

	Info("catalog paths", Fields{
		FieldKey("base_dir"): cfg.BaseDir,
		CatalogPath:          cfg.CatalogFile,
		FieldKey("backend"):  cfg.CatalogBackend,
	})

	// Create-on-first-run ONLY (no config file was read)
	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, ".imgdrop", "server_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default server config: %w", err)
			}
			Info("server config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func applyServerDefaults(v *viper.Viper, home string) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("base_dir", filepath.Join(home, ".imgdrop", "imagens"))
	v.SetDefault("catalog_backend", "toml")
	v.SetDefault("catalog_file", filepath.Join(home, ".imgdrop", "catalog.toml"))
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_key", "imgdrop:catalog")
	v.SetDefault("thumb_size", DefaultThumbSize)
	v.SetDefault("packet_timeout_ms", DefaultPacketTimeoutMs)
	v.SetDefault("followup_timeout_ms", DefaultFollowUpTimeoutMs)
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("concurrent_sessions", false)
	v.SetDefault("session_ttl", 60)
	v.SetDefault("session_scan", 10)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("server_id", uuid.New().String())
	v.SetDefault("log_level", "info")
	v.SetDefault("udp_read_buffer_size", 64*1024)
	v.SetDefault("udp_write_buffer_size", 64*1024)
}

func LoadClientConfig(configPath string) (*ClientConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, ".imgdrop"), "client_config", "toml", "IMGDROP_CLIENT")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server_addr", fmt.Sprintf("127.0.0.1:%d", DefaultPort))
	v.SetDefault("author", "anon")
	v.SetDefault("download_dir", "downloads")
	v.SetDefault("packet_timeout_ms", DefaultPacketTimeoutMs)
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("max_retries", 0)
	v.SetDefault("client_uuid", uuid.New().String())
	v.SetDefault("log_level", "info")

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DownloadDir = expandPath(cfg.DownloadDir)

	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, ".imgdrop", "client_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default client config: %w", err)
			}
			Info("client config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		// an explicit path that does not exist yet is treated as first run
		if configPath != "" && errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		Error("config file unreadable", Fields{
			ConfigPath: configPath,
			FieldError: err.Error(),
		})
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func (cfg *ServerConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, ".imgdrop", "server_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("host", cfg.Host)
	v.Set("port", cfg.Port)
	v.Set("base_dir", cfg.BaseDir)
	v.Set("catalog_backend", cfg.CatalogBackend)
	v.Set("catalog_file", cfg.CatalogFile)
	v.Set("redis_addr", cfg.RedisAddr)
	v.Set("redis_key", cfg.RedisKey)
	v.Set("thumb_size", cfg.ThumbSize)
	v.Set("packet_timeout_ms", cfg.PacketTimeoutMs)
	v.Set("followup_timeout_ms", cfg.FollowUpTimeoutMs)
	v.Set("chunk_size", cfg.ChunkSize)
	v.Set("concurrent_sessions", cfg.ConcurrentSessions)
	v.Set("session_ttl", cfg.SessionTTL)
	v.Set("session_scan", cfg.SessionScan)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("server_id", cfg.ServerId)
	v.Set("log_level", cfg.LogLevel)
	v.Set("udp_read_buffer_size", cfg.UDPReadBufferSize)
	v.Set("udp_write_buffer_size", cfg.UDPWriteBufferSize)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write server config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func (cfg *ClientConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, ".imgdrop", "client_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("server_addr", cfg.ServerAddr)
	v.Set("author", cfg.Author)
	v.Set("download_dir", cfg.DownloadDir)
	v.Set("packet_timeout_ms", cfg.PacketTimeoutMs)
	v.Set("chunk_size", cfg.ChunkSize)
	v.Set("max_retries", cfg.MaxRetries)
	v.Set("client_uuid", cfg.ClientUuid)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write client config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func msOrDefault(ms int) time.Duration {
	if ms <= 0 {
		ms = DefaultPacketTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
