package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/messaging-service/cmd/mainconfig"
	"github.com/wolfman30/messaging-service/internal/api/router"
	"github.com/wolfman30/messaging-service/internal/app/bootstrap"
	appconfig "github.com/wolfman30/messaging-service/internal/config"
	"github.com/wolfman30/messaging-service/internal/http/handlers"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/internal/messaging/telnyxclient"
	"github.com/wolfman30/messaging-service/internal/observability/metrics"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

func main() {
	// Local development keeps credentials in .env; absence is fine.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting messaging-service API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// With the in-memory queue there is no separate worker process, so retries
	// and reconciliation run here.
	if cfg.UseMemoryQueue {
		app.pipeline.Worker.Start(ctx)
		go app.pipeline.Reconciler.Run(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if cfg.UseMemoryQueue {
		app.pipeline.Worker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type app struct {
	handler  http.Handler
	pipeline *bootstrap.Pipeline
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
	}

	awsCfg := loadAWS(ctx, cfg, logger)

	metricsHandler, deliveryMetrics := setupDeliveryMetrics()

	stores := bootstrap.BuildStores(pool, redisClient, cfg, logger)
	gateways, err := bootstrap.BuildGateways(cfg, awsCfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	pipeline, err := bootstrap.BuildPipeline(cfg, bootstrap.PipelineDeps{
		Repo:     stores.Messages,
		Gateways: gateways,
		AWS:      awsCfg,
		Metrics:  deliveryMetrics,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline
	a.closers = append(a.closers, pipeline.Close)

	service := messaging.NewService(stores.Registry(logger), stores.Messages, pipeline.Scheduler, logger,
		messaging.WithChannelSupport(gateways))

	var opts []handlers.MessagesOption
	if cfg.TelnyxWebhookSecret != "" {
		opts = append(opts, handlers.WithSMSWebhookVerifier(telnyxclient.SignatureVerifier{Secret: cfg.TelnyxWebhookSecret}))
	}
	messagesHandler := handlers.NewMessagesHandler(service, validator.New(), logger, opts...)

	a.handler = router.New(&router.Config{
		Logger:         logger,
		Messages:       messagesHandler,
		MetricsHandler: metricsHandler,
		APIAuthSecret:  cfg.APIJWTSecret,
	})
	return a, nil
}

// loadAWS returns nil when the in-memory queue is used and the SDK cannot be
// configured, so local runs work without AWS credentials.
func loadAWS(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *aws.Config {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("aws config unavailable", "error", err)
		return nil
	}
	return &awsCfg
}

func setupDeliveryMetrics() (http.Handler, *metrics.DeliveryMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewDeliveryMetrics(reg)
}
