package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgoldverg/imgdrop/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("error: %v\n", err)
	}
}
