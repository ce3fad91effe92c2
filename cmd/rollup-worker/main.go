package main

import (
	"context"
	"os"
	"time"

	"finlens/internal/amqp"
	"finlens/internal/cli"
	"finlens/internal/log"
	"finlens/internal/services"
	"finlens/internal/worker"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentWorker)
	logger.Info("Starting rollup-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := cli.OpenStore(ctx, logger, cfg)
	defer result.Cleanup()

	materializer := services.NewMaterializer(result.Store, result.Store, services.MaterializerConfig{BatchSize: cfg.RollupBatchSize})
	if cfg.SheetsMirrorEnabled() {
		mirror, err := cli.NewSheetsMirror(ctx, cfg)
		if err != nil {
			logger.Error("Failed to initialize sheets mirror", log.FieldError, err)
			os.Exit(1)
		}
		materializer.WithSink(mirror)
		logger.Info("Monthly rollups will be mirrored to Google Sheets",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet", cfg.GoogleRollupSheetName)
	}

	w := worker.NewMaterializeWorker(materializer, cfg.RollupInterval)
	logger.Info("Rollup materializer configured",
		"interval", cfg.RollupInterval,
		"batch_size", cfg.RollupBatchSize,
		log.FieldBackend, cfg.DataBackend)
	if err := w.Start(ctx); err != nil {
		logger.Error("Failed to start materialize worker", log.FieldError, err)
		os.Exit(1)
	}

	// on-demand passes requested through the API
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, running scheduled passes only", log.FieldError, err)
		} else {
			defer client.Close()
			go func() {
				if err := client.ConsumeMaterializeRequests(ctx, w.HandleRequest); err != nil && ctx.Err() == nil {
					logger.Error("Materialize request consumer stopped", log.FieldError, err)
				}
			}()
		}
	} else {
		logger.Info("AMQP disabled - only scheduled passes will run")
	}

	cli.WaitForSignal(ctx, logger)

	logger.Info("Shutting down rollup-worker...")
	cancel()
	if cli.RunWithTimeout(logger, 30*time.Second, w.Stop) {
		logger.Info("Rollup-worker shutdown complete")
	}
}
