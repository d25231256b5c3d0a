package report

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL is how long stored reports are kept.
const DefaultRedisTTL = 7 * 24 * time.Hour

// Key identifies a stored report.
type Key struct {
	JobID string
	RunID string
}

// String generates a deterministic key.
// Format: itemsense:report:<job>:<run>
//
// Example:
//
//	itemsense:report:8c1a-job:4f2e-run
func (k Key) String() string {
	parts := []string{"itemsense", "report"}
	for _, p := range []string{k.JobID, k.RunID} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ":")
}

// ItemsKey is the hash holding the items of the report, keyed by EPC.
func (k Key) ItemsKey() string {
	return k.String() + ":items"
}

// RedisSink stores each report as two hashes: run metadata under Key and
// items under Key.ItemsKey, both expiring after TTL.
type RedisSink struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisSink creates a sink on redisClient; ttl <= 0 uses DefaultRedisTTL.
func NewRedisSink(redisClient *redis.Client, ttl time.Duration) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisSink{redis: redisClient, ttl: ttl}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Save implements Sink.
func (s *RedisSink) Save(ctx context.Context, r *Report) error {
	key := Key{JobID: r.JobID, RunID: r.RunID}

	items := make(map[string]any, len(r.Items))
	for _, item := range r.Items {
		data, err := json.Marshal(item)
		if err != nil {
			return errors.Wrapf(err, "marshal item %s", item.EPC)
		}
		items[item.EPC] = data
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key.String(), key.ItemsKey())
	pipe.HSet(ctx, key.String(), map[string]any{
		"runId":       r.RunID,
		"jobId":       r.JobID,
		"watermark":   r.Watermark.Format(time.RFC3339Nano),
		"startedAt":   r.StartedAt.Format(time.RFC3339Nano),
		"completedAt": r.CompletedAt.Format(time.RFC3339Nano),
		"polls":       r.Polls,
		"partial":     strconv.FormatBool(r.Partial),
	})
	pipe.Expire(ctx, key.String(), s.ttl)
	if len(items) > 0 {
		pipe.HSet(ctx, key.ItemsKey(), items)
		pipe.Expire(ctx, key.ItemsKey(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis save report")
	}
	return nil
}

// Load reads a stored report back. Returns ErrReportNotFound if the key
// doesn't exist or has expired.
func (s *RedisSink) Load(ctx context.Context, key Key) (*Report, error) {
	meta, err := s.redis.HGetAll(ctx, key.String()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis load report")
	}
	if len(meta) == 0 {
		return nil, ErrReportNotFound
	}

	r := &Report{RunID: meta["runId"], JobID: meta["jobId"]}
	r.Polls, _ = strconv.Atoi(meta["polls"])
	r.Partial, _ = strconv.ParseBool(meta["partial"])
	r.Watermark, _ = time.Parse(time.RFC3339Nano, meta["watermark"])
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, meta["startedAt"])
	r.CompletedAt, _ = time.Parse(time.RFC3339Nano, meta["completedAt"])

	raw, err := s.redis.HGetAll(ctx, key.ItemsKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis load items")
	}
	for epc, data := range raw {
		var item model.Item
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, errors.Wrapf(err, "decode stored item %s", epc)
		}
		r.Items = append(r.Items, item)
	}
	r.SortItems()
	return r, nil
}

// Close implements Sink. The redis client is owned by the caller.
func (s *RedisSink) Close() error { return nil }
