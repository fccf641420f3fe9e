package eventhub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "pdm:events"

// RedisSink publishes every event as JSON on a redis pub/sub channel.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

func NewRedisSink(rdb *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Publish(ctx context.Context, event entity.DomainEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind, err)
	}
	return nil
}
