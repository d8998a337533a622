package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/alfredjeanlab/panels/internal/model"
)

// RedisHistory stores live history in Redis lists so several server
// instances share one bounded history.
//
// Keys:
//
//	panels:live:{type}:list:{sender}  list of JSON events, oldest first
//	panels:live:{type}:senders        set of senders with a list
//
// Sender ids come from clients, so lists live under their own segment and
// no sender name can collide with the set.
type RedisHistory struct {
	rdb      *redis.Client
	capacity int
	owned    bool
}

var _ History = (*RedisHistory)(nil)

// NewRedisHistory wraps an existing client.
func NewRedisHistory(rdb *redis.Client, capacity int) *RedisHistory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisHistory{rdb: rdb, capacity: capacity}
}

// DialRedisHistory connects to the Redis server at url (redis://...) and
// verifies it answers a PING.
func DialRedisHistory(ctx context.Context, url string, capacity int) (*RedisHistory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	h := NewRedisHistory(rdb, capacity)
	h.owned = true
	return h, nil
}

func listKey(t model.LiveType, sender string) string {
	return "panels:live:" + string(t) + ":list:" + sender
}

func sendersKey(t model.LiveType) string {
	return "panels:live:" + string(t) + ":senders"
}

func (h *RedisHistory) Append(ctx context.Context, ev model.LiveEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal live event: %w", err)
	}
	key := listKey(ev.Type, ev.Sender)
	_, err = h.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-h.capacity), -1)
		pipe.SAdd(ctx, sendersKey(ev.Type), ev.Sender)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append live event: %w", err)
	}
	return nil
}

func (h *RedisHistory) Clear(ctx context.Context, t model.LiveType) error {
	senders, err := h.rdb.SMembers(ctx, sendersKey(t)).Result()
	if err != nil {
		return fmt.Errorf("list senders: %w", err)
	}
	keys := make([]string, 0, len(senders)+1)
	for _, s := range senders {
		keys = append(keys, listKey(t, s))
	}
	keys = append(keys, sendersKey(t))
	if err := h.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", t, err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, t model.LiveType, sender string) ([]model.LiveEvent, error) {
	raw, err := h.rdb.LRange(ctx, listKey(t, sender), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]model.LiveEvent, 0, len(raw))
	for _, r := range raw {
		var ev model.LiveEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			slog.Warn("skipping corrupt live history entry", "type", t, "sender", sender, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (h *RedisHistory) Senders(ctx context.Context, t model.LiveType) ([]string, error) {
	senders, err := h.rdb.SMembers(ctx, sendersKey(t)).Result()
	if err != nil {
		return nil, fmt.Errorf("list senders: %w", err)
	}
	slices.Sort(senders)
	return senders, nil
}

// Close closes the client when it was opened by DialRedisHistory.
func (h *RedisHistory) Close() error {
	if !h.owned {
		return nil
	}
	return h.rdb.Close()
}
