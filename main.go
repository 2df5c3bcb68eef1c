package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nickigann03/ai-secretary/internal/cli"
	"github.com/nickigann03/ai-secretary/internal/config"
	"github.com/nickigann03/ai-secretary/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("AISECRETARY_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	deps := &cli.Dependencies{
		Config: cfg,
		Log:    log,
	}
	return cli.NewRootCmd(deps).ExecuteContext(context.Background())
}
