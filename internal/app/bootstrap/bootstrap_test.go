package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/messaging-service/internal/config"
	"github.com/wolfman30/messaging-service/internal/conversation"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	logger := logging.Discard()
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	defer client.Close()

	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "127.0.0.1:1"}, logger, true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildPostgresPoolEmptyURL(t *testing.T) {
	pool, err := BuildPostgresPool(context.Background(), &appconfig.Config{}, logging.Discard())
	if err != nil || pool != nil {
		t.Fatalf("expected nil pool and no error, got %v, %v", pool, err)
	}
}

func TestBuildStoresMemoryWithCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr(), ParticipantCacheTTL: time.Minute}
	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), false)
	defer client.Close()

	stores := BuildStores(nil, client, cfg, logging.Discard())
	if stores.Durable {
		t.Fatalf("expected in-memory stores without a pool")
	}
	if _, ok := stores.Directory.(*conversation.CachedDirectory); !ok {
		t.Fatalf("expected cached directory, got %T", stores.Directory)
	}

	conv, err := stores.Registry(logging.Discard()).Resolve(context.Background(), "+15550001111", "+15550002222")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if conv.ID == 0 {
		t.Fatalf("expected conversation id")
	}
}

func TestBuildGateways(t *testing.T) {
	gateways, err := BuildGateways(&appconfig.Config{Env: "development", EmailProvider: "auto"}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, ch := range []messaging.Channel{messaging.ChannelSMS, messaging.ChannelMMS, messaging.ChannelEmail} {
		if _, err := gateways.For(ch); err != nil {
			t.Fatalf("%s: expected gateway, got %v", ch, err)
		}
	}

	prod, err := BuildGateways(&appconfig.Config{Env: "production", EmailProvider: "auto"}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := prod.For(messaging.ChannelSMS); err == nil {
		t.Fatalf("expected sms to stay unregistered in production without credentials")
	}
	if _, err := prod.For(messaging.ChannelEmail); err != nil {
		t.Fatalf("expected email stub in auto mode, got %v", err)
	}
}

func TestBuildPipelineRequiresQueue(t *testing.T) {
	cfg := &appconfig.Config{}
	gateways, _ := BuildGateways(&appconfig.Config{Env: "development"}, nil, logging.Discard())
	_, err := BuildPipeline(cfg, PipelineDeps{Repo: messaging.NewMemoryStore(), Gateways: gateways})
	if err == nil {
		t.Fatalf("expected error without a queue")
	}
}

func TestBuildPipelineDeliversThroughStub(t *testing.T) {
	cfg := &appconfig.Config{
		Env:                    "development",
		UseMemoryQueue:         true,
		WorkerCount:            1,
		MaxSendAttempts:        3,
		SendBaseDelay:          time.Second,
		SendMaxDelay:           time.Minute,
		UnknownStatusAsSuccess: true,
		ProviderTimeout:        time.Second,
	}
	logger := logging.Discard()
	stores := BuildStores(nil, nil, cfg, logger)
	gateways, err := BuildGateways(cfg, nil, logger)
	if err != nil {
		t.Fatalf("gateways: %v", err)
	}
	pipeline, err := BuildPipeline(cfg, PipelineDeps{Repo: stores.Messages, Gateways: gateways, Logger: logger})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	defer pipeline.Close()

	svc := messaging.NewService(stores.Registry(logger), stores.Messages, pipeline.Scheduler, logger,
		messaging.WithChannelSupport(gateways))
	msg, err := svc.CreateOutbound(context.Background(), messaging.CreateRequest{
		From:    "+15550001111",
		To:      "+15550002222",
		Channel: messaging.ChannelSMS,
		Body:    "hello",
	})
	if err != nil {
		t.Fatalf("create outbound: %v", err)
	}
	view, err := svc.GetStatus(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if !view.Delivered || view.Attempts != 1 || view.State != messaging.StateDelivered {
		t.Fatalf("expected first synchronous attempt to deliver, got %+v", view)
	}
}
