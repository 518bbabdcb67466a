package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/messaging-service/cmd/mainconfig"
	"github.com/wolfman30/messaging-service/internal/app/bootstrap"
	"github.com/wolfman30/messaging-service/internal/config"
	"github.com/wolfman30/messaging-service/internal/observability/metrics"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.DeliveryQueueURL == "" {
		logger.Error("delivery worker requires DATABASE_URL and DELIVERY_QUEUE_URL")
		os.Exit(1)
	}
	// The worker always drains SQS; an in-memory queue only exists inside the API process.
	cfg.UseMemoryQueue = false

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	deliveryMetrics := metrics.NewDeliveryMetrics(reg)

	stores := bootstrap.BuildStores(pool, nil, cfg, logger)
	gateways, err := bootstrap.BuildGateways(cfg, &awsCfg, logger)
	if err != nil {
		logger.Error("failed to build gateways", "error", err)
		os.Exit(1)
	}
	pipeline, err := bootstrap.BuildPipeline(cfg, bootstrap.PipelineDeps{
		Repo:     stores.Messages,
		Gateways: gateways,
		AWS:      &awsCfg,
		Metrics:  deliveryMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build delivery pipeline", "error", err)
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	pipeline.Worker.Start(ctx)
	go pipeline.Reconciler.Run(ctx)
	logger.Info("delivery worker started", "workers", cfg.WorkerCount, "queue_url", cfg.DeliveryQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("delivery worker shutting down")
	cancel()
	pipeline.Worker.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
