// Paybox - redirect gateway payment service
package main

import (
	"context"
	"os"

	"github.com/mbd888/paybox/internal/config"
	"github.com/mbd888/paybox/internal/logging"
	"github.com/mbd888/paybox/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting paybox",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Version == "dev" {
		cfg.Version = Version
	}

	// Reconfigure with the configured level and format.
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"acquirer_id", cfg.AcquirerID,
		"paybox_environment", cfg.PayboxEnvironment,
		"database", cfg.DatabaseURL != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
