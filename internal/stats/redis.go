package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder writes counters into Redis hashes:
//
//	<prefix>:total                   allowed / denied, never expires
//	<prefix>:minute:<yyyyMMddHHmm>   per minute bucket, expires after ttl
//	<prefix>:route                   "<METHOD> <path>:<field>"
//	<prefix>:key:<key>               per key, only with track keys, expires after ttl
type RedisRecorder struct {
	rdb *redis.Client

	prefix    string
	ttl       time.Duration
	bucket    string
	trackKeys bool
}

type RedisOption func(*RedisRecorder)

func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) {
		if p := strings.Trim(prefix, ":"); p != "" {
			r.prefix = p
		}
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

// WithBucket selects time bucketing: "minute" or "none".
func WithBucket(bucket string) RedisOption {
	return func(r *RedisRecorder) { r.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithRedisTrackKeys(track bool) RedisOption {
	return func(r *RedisRecorder) { r.trackKeys = track }
}

func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record increments every counter the event touches in one pipeline.
func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := fieldFor(ev.Allowed)

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.totalKey(), field, 1)

	if r.bucket == "minute" {
		bucketKey := r.minuteKey(at)
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, bucketKey, r.ttl)
		}
	}

	if route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)); route != "" {
		pipe.HIncrBy(ctx, r.prefix+":route", route+":"+field, 1)
	}

	if r.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			keyKey := r.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if r.ttl > 0 {
				pipe.Expire(ctx, keyKey, r.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record rate limit stats: %w", err)
	}
	return nil
}

// maxSnapshotKeys caps how many per-key hashes Snapshot reads.
const maxSnapshotKeys = 1000

// Snapshot reads the total, per-route and, with track keys, per-key hashes.
func (r *RedisRecorder) Snapshot(ctx context.Context) (Snapshot, error) {
	if r == nil || r.rdb == nil {
		return Snapshot{}, ErrNotReadable
	}

	total, err := r.rdb.HGetAll(ctx, r.totalKey()).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read stats totals: %w", err)
	}
	routes, err := r.rdb.HGetAll(ctx, r.prefix+":route").Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read route stats: %w", err)
	}

	snap := Snapshot{
		Total:   parseCounters(total),
		ByRoute: parseRouteCounters(routes),
		ByKey:   make(map[string]Counters),
	}
	if !r.trackKeys {
		return snap, nil
	}

	keyPrefix := r.prefix + ":key:"
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) && len(snap.ByKey) < maxSnapshotKeys {
		fields, err := r.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read key stats: %w", err)
		}
		snap.ByKey[strings.TrimPrefix(iter.Val(), keyPrefix)] = parseCounters(fields)
	}
	if err := iter.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to scan key stats: %w", err)
	}
	return snap, nil
}

func parseCounters(fields map[string]string) Counters {
	var c Counters
	c.Allowed, _ = strconv.ParseInt(fields["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(fields["denied"], 10, 64)
	return c
}

// parseRouteCounters folds "<METHOD> <path>:<field>" entries into one
// Counters per route.
func parseRouteCounters(fields map[string]string) map[string]Counters {
	routes := make(map[string]Counters)
	for name, value := range fields {
		i := strings.LastIndex(name, ":")
		if i < 0 {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		route, field := name[:i], name[i+1:]
		c := routes[route]
		switch field {
		case "allowed":
			c.Allowed += n
		case "denied":
			c.Denied += n
		default:
			continue
		}
		routes[route] = c
	}
	return routes
}

// Close releases the Redis connection pool.
func (r *RedisRecorder) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func (r *RedisRecorder) totalKey() string {
	return r.prefix + ":total"
}

func (r *RedisRecorder) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
}
