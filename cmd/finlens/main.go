package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finlens/internal/amqp"
	"finlens/internal/cli"
	apphttp "finlens/internal/http"
	"finlens/internal/log"
	"finlens/internal/services"
	"finlens/internal/worker"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := cli.OpenStore(ctx, logger, cfg)
	defer result.Cleanup()
	store := result.Store

	materializer := services.NewMaterializer(store, store, services.MaterializerConfig{BatchSize: cfg.RollupBatchSize})
	if cfg.SheetsMirrorEnabled() {
		mirror, err := cli.NewSheetsMirror(ctx, cfg)
		if err != nil {
			logger.Warn("Sheets mirror disabled", log.FieldError, err)
		} else {
			materializer.WithSink(mirror)
			logger.Info("Sheets mirror enabled", "sheet", cfg.GoogleRollupSheetName)
		}
	}

	scheduler := worker.NewMaterializeWorker(materializer, cfg.RollupInterval)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start materialize scheduler", log.FieldError, err)
		os.Exit(1)
	}

	svc := apphttp.Services{
		Query:       services.NewQueryService(store, store),
		Insights:    services.NewInsightService(store, store),
		Categorizer: services.NewCategorizer(store),
		Salary:      services.NewSalaryService(store),
		Runner:      scheduler,
	}
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, async materialization disabled", log.FieldError, err)
		} else {
			defer client.Close()
			svc.Publisher = client
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		QueryTimeout: cfg.QueryTimeout,
		CacheSize:    cfg.CacheSize,
		CacheTTL:     cfg.CacheTTL,
		Logger:       logger,
	})
	srv.MaxHeaderBytes = 1 << 16

	go func() {
		logger.Info("Starting finlens server",
			"port", cfg.Port,
			log.FieldBackend, cfg.DataBackend,
			"rollup_interval", cfg.RollupInterval)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			cancel()
		}
	}()

	cli.WaitForSignal(ctx, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", log.FieldError, err)
	}
	cancel()
	cli.RunWithTimeout(logger, 30*time.Second, scheduler.Stop)
	logger.Info("Server stopped gracefully")
}
