package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventHandler processes one decoded stream entry.
type EventHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// Consumer reads session event streams through a consumer group. Stuck
// pending entries are reclaimed after an idle window; entries that keep
// failing move to a dead letter stream (dlq:<stream>).
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  EventHandler
	log      zerolog.Logger

	batchSize            int
	blockTimeout         time.Duration
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// ConsumerConfig holds consumer tuning.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  EventHandler
	Logger   zerolog.Logger

	BatchSize            int
	BlockTimeout         time.Duration
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.PendingCheckInterval <= 0 {
		cfg.PendingCheckInterval = 60 * time.Second
	}
	if cfg.PendingIdleTime <= 0 {
		cfg.PendingIdleTime = 2 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		batchSize:            cfg.BatchSize,
		blockTimeout:         cfg.BlockTimeout,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting stream consumer")

	for _, stream := range c.streams {
		c.ensureGroup(ctx, stream)
	}

	go c.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.read(ctx)
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("stream read failed")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				c.handleOne(ctx, stream.Stream, msg)
			}
		}
	}
}

func (c *Consumer) handleOne(ctx context.Context, stream string, msg redis.XMessage) {
	if err := c.process(ctx, stream, msg); err != nil {
		// leave unacked; the reclaim loop retries it
		c.log.Error().Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("event handling failed")
		return
	}
	if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("ack failed")
	}
}

func (c *Consumer) ensureGroup(ctx context.Context, stream string) {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		c.log.Warn().Err(err).Str("stream", stream).Msg("consumer group creation failed")
	}
}

func (c *Consumer) read(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    int64(c.batchSize),
		Block:    c.blockTimeout,
	}).Result()
}

func (c *Consumer) process(ctx context.Context, stream string, msg redis.XMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("entry %s has no data field", msg.ID)
	}
	return c.handler.Handle(ctx, stream, []byte(data))
}

// reclaimLoop periodically reprocesses entries another consumer claimed
// but never acked.
func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reclaimPending(ctx)
		}
	}
}

func (c *Consumer) reclaimPending(ctx context.Context) {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if err != redis.Nil {
				c.log.Error().Err(err).Str("stream", stream).Msg("pending lookup failed")
			}
			continue
		}

		for _, p := range pending {
			if p.Idle < c.pendingIdleTime {
				continue
			}
			if int(p.RetryCount) >= c.maxRetries {
				if err := c.deadLetter(ctx, stream, p.ID); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("dead letter move failed")
				}
				c.client.XAck(ctx, stream, c.group, p.ID)
				continue
			}

			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.pendingIdleTime,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("claim failed")
				continue
			}
			for _, msg := range claimed {
				c.handleOne(ctx, stream, msg)
			}
		}
	}
}

// deadLetter copies the failed entry into dlq:<stream> with failure
// metadata before it is acked away.
func (c *Consumer) deadLetter(ctx context.Context, stream, msgID string) error {
	entries, err := c.client.XRange(ctx, stream, msgID, msgID).Result()
	if err != nil {
		return fmt.Errorf("read entry for dlq: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("entry %s no longer in %s", msgID, stream)
	}

	values := map[string]interface{}{
		"original_stream": stream,
		"original_id":     msgID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"group":           c.group,
	}
	for k, v := range entries[0].Values {
		values["original_"+k] = v
	}

	err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "dlq:" + stream,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("append to dlq: %w", err)
	}

	c.log.Warn().
		Str("stream", stream).
		Str("id", msgID).
		Msg("entry moved to dead letter stream")
	return nil
}
