package ifacecache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ipiton/depsolve/internal/model"
)

// RedisBacked decorates a Memory cache with a Redis-backed persistence
// layer so that interfaces loaded by one run survive process restarts
// without a full feed refetch. Reads always check memory first; a miss
// falls through to Redis and repopulates memory. Writes go to both.
//
// If Redis is unreachable at construction time, NewRedisBacked falls back to a
// memory-only cache silently (logged at Warn): a persistence layer
// failing to start should never block a solve.
type RedisBacked struct {
	*Memory
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisBacked builds a RedisBacked cache over a fresh Memory cache
// of the given capacity, using client for persistence with entries
// expiring after ttl (0 disables expiry). Grounded on
// internal/infrastructure/cache/redis.go's ping-on-construct,
// JSON-marshal-value pattern, adapted to cache Interface values keyed
// by URI instead of arbitrary alert payloads.
func NewRedisBacked(ctx context.Context, client *redis.Client, capacity int, ttl time.Duration, logger *slog.Logger) *RedisBacked {
	if logger == nil {
		logger = slog.Default()
	}
	mem := NewMemory(capacity)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("interface cache: redis unreachable, falling back to memory-only", "error", err)
		return &RedisBacked{Memory: mem, client: nil, ttl: ttl, logger: logger}
	}

	return &RedisBacked{Memory: mem, client: client, ttl: ttl, logger: logger}
}

func (r *RedisBacked) redisKey(uri string) string {
	return "depsolve:iface:" + uri
}

// GetInterface checks memory first, then Redis, then falls back to an
// empty Interface (matching Memory.GetInterface's never-nil contract).
func (r *RedisBacked) GetInterface(uri string) *model.Interface {
	if iface, ok := r.peekMemory(uri); ok {
		return iface
	}
	if r.client != nil {
		if iface, ok := r.loadFromRedis(uri); ok {
			r.Memory.Put(iface)
			return iface
		}
	}
	return r.Memory.GetInterface(uri)
}

func (r *RedisBacked) peekMemory(uri string) (*model.Interface, bool) {
	r.Memory.mu.Lock()
	defer r.Memory.mu.Unlock()
	return r.Memory.entries.Get(uri)
}

func (r *RedisBacked) loadFromRedis(uri string) (*model.Interface, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := r.client.Get(ctx, r.redisKey(uri)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("interface cache: redis get failed", "uri", uri, "error", err)
		}
		return nil, false
	}

	var iface model.Interface
	if err := json.Unmarshal(data, &iface); err != nil {
		r.logger.Warn("interface cache: redis value corrupt", "uri", uri, "error", err)
		return nil, false
	}
	return &iface, true
}

// Put writes iface to memory and, if Redis is available, persists it
// too. A Redis write failure is logged but never fails the call: the
// in-memory copy is authoritative for this run.
func (r *RedisBacked) Put(iface *model.Interface) {
	r.Memory.Put(iface)
	if r.client == nil {
		return
	}

	data, err := json.Marshal(iface)
	if err != nil {
		r.logger.Warn("interface cache: failed to marshal interface", "uri", iface.URI, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.client.Set(ctx, r.redisKey(iface.URI), data, r.ttl).Err(); err != nil {
		r.logger.Warn("interface cache: redis set failed", "uri", iface.URI, "error", err)
	}
}
