package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

// RedisSink keeps a live view of whales and a queryable spoof history in
// Redis and publishes every event for subscribers.
//
//	{prefix}:events:{symbol}              pub/sub channel of all events
//	{prefix}:whales:{symbol}              hash whale id -> latest event
//	{prefix}:spoof:{id}                   hash of one scored lifecycle
//	{prefix}:spoofs:{symbol}              zset of spoof ids by time
//	{prefix}:spoofs:severity:{symbol}     zset of spoof ids by score
//	{prefix}:spoofs:size:{symbol}         zset of spoof ids by value
//	{prefix}:spoofs:stats:{symbol}:{hour} hash of hourly counters
//	{prefix}:spoofs:live:{symbol}         pub/sub channel of spoof scores
type RedisSink struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	maxPerSymbol int64
	log          *logger.Log
}

func NewRedisSink(ctx context.Context, cfg appconfig.RedisConfig) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	prefix := strings.TrimSuffix(cfg.Prefix, ":")
	if prefix == "" {
		prefix = "whalewatch"
	}
	s := &RedisSink{rdb: rdb, prefix: prefix, ttl: cfg.TTL, maxPerSymbol: cfg.MaxPerSymbol, log: logger.GetLogger()}
	s.log.WithComponent("redis_writer").WithFields(logger.Fields{
		"addr":   cfg.Addr,
		"db":     cfg.DB,
		"prefix": prefix,
	}).Info("redis sink initialized")
	return s, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisSink) Write(ctx context.Context, e models.DetectionEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.key("events", e.Symbol), payload)

		whales := s.key("whales", e.Symbol)
		switch e.Type {
		case models.EventWhaleCreated, models.EventWhaleUpdated, models.EventWhaleReactivated:
			pipe.HSet(ctx, whales, e.WhaleID, payload)
		case models.EventWhaleDisappeared:
			pipe.HDel(ctx, whales, e.WhaleID)
		case models.EventSpoofScored:
			if e.Score != nil {
				s.writeSpoof(ctx, pipe, e, payload)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: write %s: %w", e.Type, err)
	}
	return nil
}

func (s *RedisSink) writeSpoof(ctx context.Context, pipe redis.Pipeliner, e models.DetectionEvent, payload []byte) {
	id := e.WhaleID
	hash := s.key("spoof", id)
	pipe.HSet(ctx, hash, spoofFields(e))
	if s.ttl > 0 {
		pipe.Expire(ctx, hash, s.ttl)
	}

	member := redis.Z{Member: id}
	for _, z := range []struct {
		key   string
		score float64
	}{
		{s.key("spoofs", e.Symbol), float64(e.Timestamp.UnixMilli())},
		{s.key("spoofs", "severity", e.Symbol), e.Score.Total},
		{s.key("spoofs", "size", e.Symbol), e.InitialValue},
	} {
		member.Score = z.score
		pipe.ZAdd(ctx, z.key, member)
		if s.maxPerSymbol > 0 {
			pipe.ZRemRangeByRank(ctx, z.key, 0, -s.maxPerSymbol-1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, z.key, s.ttl)
		}
	}

	stats := s.key("spoofs", "stats", e.Symbol, hourBucket(e.Timestamp))
	pipe.HIncrBy(ctx, stats, "count", 1)
	pipe.HIncrByFloat(ctx, stats, "total_value", e.InitialValue)
	pipe.HIncrBy(ctx, stats, "pattern:"+e.Score.Pattern, 1)
	pipe.HIncrBy(ctx, stats, "confidence:"+e.Score.Confidence, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, stats, s.ttl)
	}

	pipe.Publish(ctx, s.key("spoofs", "live", e.Symbol), payload)
}

func spoofFields(e models.DetectionEvent) map[string]interface{} {
	return map[string]interface{}{
		"whale_id":         e.WhaleID,
		"symbol":           e.Symbol,
		"side":             string(e.Side),
		"price":            e.Price,
		"initial_value":    e.InitialValue,
		"final_value":      e.Value,
		"duration_seconds": e.DurationSeconds,
		"disappearances":   e.Disappearances,
		"size_variance":    e.SizeVariancePct,
		"score":            e.Score.Total,
		"confidence":       e.Score.Confidence,
		"pattern":          e.Score.Pattern,
		"profile":          e.Score.Profile,
		"reasons":          strings.Join(e.Score.Reasons, "; "),
		"timestamp":        e.Timestamp.UnixMilli(),
	}
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

func (s *RedisSink) Close() error {
	s.log.WithComponent("redis_writer").Info("closing redis sink")
	return s.rdb.Close()
}
