package bootstrap

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/messaging-service/internal/config"
	"github.com/wolfman30/messaging-service/internal/conversation"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

// Stores groups the persistence the service and the delivery pipeline share.
type Stores struct {
	Conversations conversation.Store
	Directory     conversation.Directory
	Messages      messaging.Repository
	Durable       bool
}

// BuildStores selects Postgres when a pool is available and in-memory stores
// otherwise. Participant lookups go through Redis when a client is provided.
func BuildStores(pool *pgxpool.Pool, redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) Stores {
	if logger == nil {
		logger = logging.Default()
	}
	var stores Stores
	if pool != nil {
		stores = Stores{
			Conversations: conversation.NewPostgresStore(pool),
			Messages:      messaging.NewStore(pool),
			Durable:       true,
		}
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		stores = Stores{
			Conversations: conversation.NewMemoryStore(),
			Messages:      messaging.NewMemoryStore(),
		}
	}

	var ttl time.Duration
	if cfg != nil {
		ttl = cfg.ParticipantCacheTTL
	}
	stores.Directory = conversation.NewCachedDirectory(stores.Conversations, redisClient, ttl, logger)
	return stores
}

// Registry builds the conversation registry over the stores.
func (s Stores) Registry(logger *logging.Logger) *conversation.Registry {
	return conversation.NewRegistry(s.Conversations, logger, conversation.WithDirectory(s.Directory))
}
