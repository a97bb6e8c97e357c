package aiconfig

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store reads and replaces the authoritative configuration.
type Store interface {
	// GetAIConfiguration returns the current record, creating it from
	// Default() when none exists.
	GetAIConfiguration(ctx context.Context) (Config, error)
	// SaveAIConfiguration replaces every field of the current record and
	// returns what was stored.
	SaveAIConfiguration(ctx context.Context, cfg Config) (Config, error)
}

// MemoryStore keeps the configuration in process. Used by tests and local runs.
type MemoryStore struct {
	mu  sync.RWMutex
	cfg *Config
	now func() time.Time
}

// NewMemoryStore returns an empty store; the first read synthesizes defaults.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) GetAIConfiguration(ctx context.Context) (Config, error) {
	s.mu.RLock()
	if s.cfg != nil {
		cfg := clone(*s.cfg)
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		cfg := Default()
		cfg.ID = uuid.NewString()
		cfg.CreatedAt = s.now().UTC()
		cfg.UpdatedAt = cfg.CreatedAt
		s.cfg = &cfg
	}
	return clone(*s.cfg), nil
}

func (s *MemoryStore) SaveAIConfiguration(ctx context.Context, cfg Config) (Config, error) {
	cfg = cfg.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if s.cfg == nil {
		cfg.ID = uuid.NewString()
		cfg.CreatedAt = now
	} else {
		cfg.ID = s.cfg.ID
		cfg.CreatedAt = s.cfg.CreatedAt
	}
	cfg.UpdatedAt = now
	stored := clone(cfg)
	s.cfg = &stored
	return clone(cfg), nil
}

func clone(cfg Config) Config {
	cfg.WorkingDays = append([]int(nil), cfg.WorkingDays...)
	return cfg
}
