// Package history records emitted shipments so past bulk runs can be listed.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/db"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/events"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 20

// Recorder stores finalized shipments.
type Recorder interface {
	// Record stores s. Recording the same shipment id twice keeps the latest copy.
	Record(ctx context.Context, s shipment.FinalizedShipment) error
	// List returns up to limit shipments, newest first.
	List(ctx context.Context, limit int) ([]shipment.FinalizedShipment, error)
	// Close releases any connection held by the recorder.
	Close() error
}

// Backend names a Recorder implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config selects and parameterizes the history recorder.
type Config struct {
	Backend       Backend    `yaml:"backend"`
	RedisAddr     string     `yaml:"redis_addr,omitempty"`
	RedisPassword string     `yaml:"redis_password,omitempty"`
	RedisDB       int        `yaml:"redis_db,omitempty"`
	Postgres      *db.Config `yaml:"postgres,omitempty"`
}

// Validate checks the backend name and its required settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, "":
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("history.redis_addr required for the redis backend")
		}
	case BackendPostgres:
		if c.Postgres == nil {
			return fmt.Errorf("history.postgres required for the postgres backend")
		}
		return c.Postgres.Validate()
	default:
		return fmt.Errorf("unknown history backend %q (must be memory, redis, or postgres)", c.Backend)
	}
	return nil
}

// Open connects the Recorder selected by cfg.
func Open(ctx context.Context, cfg *Config, logger logging.Logger) (Recorder, error) {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryRecorder(), nil
	case BackendRedis:
		client, err := events.Dial(events.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return NewRedisRecorder(client, events.NewPublisher(client, logger), logger), nil
	case BackendPostgres:
		pool, err := db.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return NewPostgresRecorder(pool, logger), nil
	}
	return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
}

// MemoryRecorder keeps shipments for the life of the process.
type MemoryRecorder struct {
	mu        sync.RWMutex
	shipments map[string]shipment.FinalizedShipment
	seq       map[string]int
	next      int
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		shipments: make(map[string]shipment.FinalizedShipment),
		seq:       make(map[string]int),
	}
}

func (m *MemoryRecorder) Record(ctx context.Context, s shipment.FinalizedShipment) error {
	if s.ID == "" {
		return fmt.Errorf("record shipment: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[s.ID] = s
	m.seq[s.ID] = m.next
	m.next++
	return nil
}

func (m *MemoryRecorder) List(ctx context.Context, limit int) ([]shipment.FinalizedShipment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]shipment.FinalizedShipment, 0, len(m.shipments))
	for _, s := range m.shipments {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRecorder) Close() error { return nil }
