// Package cli holds the startup steps shared by cmd/finlens and
// cmd/rollup-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finlens/internal/backend"
	"finlens/internal/config"
	"finlens/internal/log"
	"finlens/internal/sheets"
	gsheet "finlens/internal/sheets/google"
)

// LoadAndValidateConfig loads configuration, installs the default logger
// for component and validates. It exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *log.Logger) {
	cfg := config.Load()
	logger := log.Setup(log.ConfigFromStrings(cfg.LogLevel, cfg.LogFormat, component))
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// OpenStore creates the configured backend or exits the process.
func OpenStore(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	return result
}

// NewSheetsMirror builds the Google Sheets mirror for monthly rollups.
func NewSheetsMirror(ctx context.Context, cfg *config.Config) (*sheets.Mirror, error) {
	client, err := gsheet.New(ctx, gsheet.Credentials{
		JSON: cfg.GoogleCredentialsJSON,
		File: cfg.GoogleCredentialsFile,
	})
	if err != nil {
		return nil, err
	}
	return sheets.NewMirror(client, cfg.GoogleSpreadsheetID, cfg.GoogleRollupSheetName)
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation.
func WaitForSignal(ctx context.Context, logger *log.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}
}

// RunWithTimeout runs stop and waits at most timeout for it to return.
func RunWithTimeout(logger *log.Logger, timeout time.Duration, stop func()) bool {
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		logger.Warn("Shutdown timeout reached", "timeout", timeout)
		return false
	}
}
