// Package stats counts rate limit decisions. Counters are best effort: a
// recorder error never changes an admission decision. Backends that can
// stall, such as Redis, are wrapped in an AsyncRecorder so they do not add
// latency to requests either.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ratelimiter/internal/models"
)

// Event is one admission decision.
//
// Key and Path are caller controlled; tracking them per value can grow the
// number of counters without bound.
type Event struct {
	Key     string
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// Recorder persists decision events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Reader exposes the counters a recorder has collected.
type Reader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ErrNotReadable is returned when the underlying recorder keeps no readable
// counters.
var ErrNotReadable = errors.New("stats recorder is not readable")

// Snapshot is a point in time copy of the counters. ByKey is only filled
// when keys are tracked.
type Snapshot struct {
	Total   Counters
	ByRoute map[string]Counters
	ByKey   map[string]Counters
	Dropped int64
}

// Counters holds allowed and denied totals.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// NewRecorder builds the recorder selected by cfg. A Redis recorder is
// pinged before it is returned so a bad address fails at startup, and is
// wrapped in an AsyncRecorder.
func NewRecorder(ctx context.Context, cfg models.StatsConfig) (Recorder, error) {
	switch cfg.Backend {
	case models.StatsBackendMemory:
		return NewMemoryRecorder(WithTrackKeys(cfg.TrackKeys)), nil
	case models.StatsBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		rec := NewRedisRecorder(rdb,
			WithPrefix(cfg.Prefix),
			WithTTL(cfg.TTL),
			WithBucket(cfg.Bucket),
			WithRedisTrackKeys(cfg.TrackKeys),
		)
		return NewAsyncRecorder(rec,
			WithQueueSize(cfg.QueueSize),
			WithRecordTimeout(cfg.RecordTimeout),
		), nil
	default:
		return nil, fmt.Errorf("unsupported stats backend: %s", cfg.Backend)
	}
}

func fieldFor(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
