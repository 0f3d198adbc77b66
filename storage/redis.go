package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// mutateScript swaps the value of KEYS[1] and returns the previous one, so the
// published event can carry both sides of the change.
const mutateScript = `
local old = redis.call("GET", KEYS[1])
if ARGV[1] == "set" then
  redis.call("SET", KEYS[1], ARGV[2])
else
  redis.call("DEL", KEYS[1])
end
return old
`

var mutateLua = redis.NewScript(mutateScript)

// RedisHub is an origin backed by Redis. Values live under
// "<prefix>:kv:<key>"; change events are published as JSON on
// "<prefix>:events".
type RedisHub struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisHub creates a hub using the given client and key namespace. An empty
// prefix defaults to "tabsync".
func NewRedisHub(client redis.UniversalClient, prefix string) *RedisHub {
	if prefix == "" {
		prefix = "tabsync"
	}
	return &RedisHub{redis: client, prefix: prefix}
}

// Open returns the persistent view used by the context identified by origin.
func (h *RedisHub) Open(origin string) *RedisPersistent {
	return &RedisPersistent{hub: h, origin: origin}
}

func (h *RedisHub) key(key string) string {
	return h.prefix + ":kv:" + key
}

func (h *RedisHub) channel() string {
	return h.prefix + ":events"
}

// RedisPersistent is one context's view of a RedisHub.
type RedisPersistent struct {
	hub    *RedisHub
	origin string
}

func (r *RedisPersistent) Get(ctx context.Context, key string) (string, error) {
	v, err := r.hub.redis.Get(ctx, r.hub.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return v, nil
}

func (r *RedisPersistent) Set(ctx context.Context, key, value string) error {
	return r.mutate(ctx, key, strPtr(value))
}

func (r *RedisPersistent) Delete(ctx context.Context, key string) error {
	return r.mutate(ctx, key, nil)
}

func (r *RedisPersistent) mutate(ctx context.Context, key string, value *string) error {
	args := []interface{}{"del", ""}
	if value != nil {
		args = []interface{}{"set", *value}
	}

	var old *string
	prev, err := mutateLua.Run(ctx, r.hub.redis, []string{r.hub.key(key)}, args...).Text()
	switch {
	case err == nil:
		old = strPtr(prev)
	case errors.Is(err, redis.Nil):
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if old == nil && value == nil {
		return nil
	}

	payload, err := json.Marshal(ChangeEvent{
		Origin:   r.origin,
		Key:      key,
		OldValue: old,
		NewValue: value,
	})
	if err != nil {
		return err
	}
	if err := r.hub.redis.Publish(ctx, r.hub.channel(), payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Keys scans the hub namespace. This is O(n) in the number of stored keys.
func (r *RedisPersistent) Keys(ctx context.Context) ([]string, error) {
	pattern := r.hub.key("*")
	strip := r.hub.key("")

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.hub.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, strip))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func (r *RedisPersistent) Len(ctx context.Context) (int, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear deletes every key of the namespace, publishing one event per key.
func (r *RedisPersistent) Clear(ctx context.Context) error {
	keys, err := r.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe attaches fn to the hub channel. It returns once Redis has
// confirmed the subscription, so no event published afterwards is missed.
func (r *RedisPersistent) Subscribe(ctx context.Context, fn func(ChangeEvent)) (func(), error) {
	pubsub := r.hub.redis.Subscribe(ctx, r.hub.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ch := pubsub.Channel()
	go func() {
		for msg := range ch {
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			if ev.Origin == r.origin {
				continue
			}
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}, nil
}
