package aiconfig

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

const cacheKey = "clinicdesk:ai_config:current"

// CachedStore fronts another Store with a short-lived Redis copy. Redis
// failures degrade to reading the underlying store.
type CachedStore struct {
	next   Store
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedStore wraps next. A non-positive ttl defaults to 30s.
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedStore{next: next, redis: client, ttl: ttl, logger: logger}
}

func (s *CachedStore) GetAIConfiguration(ctx context.Context) (Config, error) {
	data, err := s.redis.Get(ctx, cacheKey).Bytes()
	switch {
	case err == redis.Nil:
	case err != nil:
		s.logger.Warn("ai config cache read failed", "error", err)
	default:
		var cfg Config
		decodeErr := json.Unmarshal(data, &cfg)
		if decodeErr == nil {
			return cfg, nil
		}
		s.logger.Warn("ai config cache entry unreadable", "error", decodeErr)
	}

	cfg, err := s.next.GetAIConfiguration(ctx)
	if err != nil {
		return Config{}, err
	}
	s.put(ctx, cfg)
	return cfg, nil
}

func (s *CachedStore) SaveAIConfiguration(ctx context.Context, cfg Config) (Config, error) {
	saved, err := s.next.SaveAIConfiguration(ctx, cfg)
	if err != nil {
		return Config{}, err
	}
	s.put(ctx, saved)
	return saved, nil
}

// Invalidate drops the cached copy.
func (s *CachedStore) Invalidate(ctx context.Context) error {
	return s.redis.Del(ctx, cacheKey).Err()
}

func (s *CachedStore) put(ctx context.Context, cfg Config) {
	data, err := json.Marshal(cfg)
	if err != nil {
		s.logger.Warn("ai config cache encode failed", "error", err)
		return
	}
	if err := s.redis.Set(ctx, cacheKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn("ai config cache write failed", "error", err)
	}
}
