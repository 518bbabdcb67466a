package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

const participantKeyPrefix = "participant:addr:"

// CachedDirectory is a Redis read-through cache in front of a Directory.
// Participants never change once created, so entries only expire to bound memory.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	logger *logging.Logger
}

// NewCachedDirectory wraps next with a Redis cache. A nil client returns next unchanged.
func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, logger *logging.Logger) Directory {
	if client == nil {
		return next
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedDirectory{
		next:   next,
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("messaging.internal.conversation.participant_cache"),
		logger: logger,
	}
}

func (c *CachedDirectory) Resolve(ctx context.Context, address string) (Participant, error) {
	address = NormalizeAddress(address)
	ctx, span := c.tracer.Start(ctx, "conversation.participant_cache.resolve")
	defer span.End()

	key := participantKeyPrefix + address
	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Participant
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil && p.ID > 0 {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return p, nil
		}
		c.logger.Warn("discarding malformed participant cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("participant cache read failed", "error", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	p, err := c.next.Resolve(ctx, address)
	if err != nil {
		return Participant{}, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("participant cache write failed", "error", err)
		}
	}
	return p, nil
}
