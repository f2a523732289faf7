// VoltSync - reference gateway for P2P energy trading over the Beckn protocol
package main

import (
	"context"
	"os"

	"github.com/voltsync/voltsync/internal/config"
	"github.com/voltsync/voltsync/internal/logging"
	"github.com/voltsync/voltsync/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "json")

	logger.Info("starting voltsync",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"bpp_url", cfg.BPPURL,
		"domain", cfg.BecknDomain,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
