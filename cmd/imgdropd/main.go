package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/imgserver"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "", "Path to the server config file (TOML)")
	logLevel := pflag.String("log-level", "", "Override the configured log level")
	pflag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg, err := internal.LoadServerConfig(*configPath)
	if err != nil {
		internal.Error("failed to load server config", internal.Fields{
			internal.FieldError: err.Error(),
			internal.ConfigPath: *configPath,
		})
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
		internal.Warn("invalid log level in server config, defaulting to info", internal.Fields{
			internal.FieldError: err.Error(),
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- imgserver.Run(ctx, cfg)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			internal.Error("server error", internal.Fields{
				internal.FieldError: err.Error(),
			})
			os.Exit(1)
		}
	case sig := <-sigChan:
		internal.Info("shutting down", internal.Fields{
			internal.FieldKey("signal"): sig.String(),
		})
		cancel()
		<-done
	}
	internal.Info("imgdropd shutdown complete", nil)
}
