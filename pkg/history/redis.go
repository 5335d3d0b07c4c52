package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/events"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Redis list holding recent shipments, newest at the head.
const (
	RedisKey        = "tradedoc:history:shipments"
	RedisMaxEntries = 1000
)

// RedisClient is the subset of *redis.Client the recorder needs.
type RedisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Close() error
}

// RedisRecorder appends shipments to a capped Redis list and announces each
// one on the shipment-generated channel.
type RedisRecorder struct {
	client    RedisClient
	publisher *events.Publisher
	logger    logging.Logger
}

// NewRedisRecorder wraps client. A nil publisher disables the announcement.
func NewRedisRecorder(client RedisClient, publisher *events.Publisher, logger logging.Logger) *RedisRecorder {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &RedisRecorder{
		client:    client,
		publisher: publisher,
		logger:    logger.With(logging.F("component", "history.redis")),
	}
}

func (r *RedisRecorder) Record(ctx context.Context, s shipment.FinalizedShipment) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal shipment: %w", err)
	}

	if err := r.client.LPush(ctx, RedisKey, data).Err(); err != nil {
		return fmt.Errorf("push shipment %s: %w", s.ID, err)
	}
	if err := r.client.LTrim(ctx, RedisKey, 0, RedisMaxEntries-1).Err(); err != nil {
		r.logger.Warn("Failed to trim history list", logging.Err(err))
	}

	if r.publisher != nil {
		if err := r.publisher.PublishShipmentGenerated(ctx, "", s); err != nil {
			r.logger.Warn("Shipment recorded but not announced",
				logging.F("shipment_id", s.ID), logging.Err(err))
		}
	}
	return nil
}

func (r *RedisRecorder) List(ctx context.Context, limit int) ([]shipment.FinalizedShipment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	// Over-read so duplicates of a re-recorded id can be dropped.
	raw, err := r.client.LRange(ctx, RedisKey, 0, int64(limit*2)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]shipment.FinalizedShipment, 0, limit)
	for _, item := range raw {
		var s shipment.FinalizedShipment
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			r.logger.Warn("Skipping unreadable history entry", logging.Err(err))
			continue
		}
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
