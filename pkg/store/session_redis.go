package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisSessionPrefix = "studydeck:session"

// saveSessionScript writes fields and stamps createdAt on first write only.
// The key gets a garbage-collection TTL when it is created.
var saveSessionScript = redis.NewScript(`
local created = redis.call("HSETNX", KEYS[1], "createdAt", ARGV[1])
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
if created == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return created
`)

// NewRedisSessionStore keeps each session in one Redis hash.
func NewRedisSessionStore(addr, password, prefix string, opts Options) (*SessionStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("session store redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return NewRedisSessionStoreWithClient(client, prefix, opts), nil
}

// NewRedisSessionStoreWithClient wraps an existing client.
func NewRedisSessionStoreWithClient(client *redis.Client, prefix string, opts Options) *SessionStore {
	opts = opts.normalize()
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisSessionPrefix
	}
	return newSessionStore(&redisBackend{
		client: client,
		prefix: prefix,
		// logical expiry comes from createdAt; the key TTL only reclaims
		// sessions nobody touches again
		gcTTL: 2 * opts.TTL,
	}, opts)
}

type redisBackend struct {
	client *redis.Client
	prefix string
	gcTTL  time.Duration
}

func (b *redisBackend) key(id string) string {
	return b.prefix + ":" + id
}

func (b *redisBackend) tombstoneKey(id string) string {
	return b.key(id) + ":expired"
}

func (b *redisBackend) load(ctx context.Context, id string, fields []string) (record, error) {
	all := append([]string{fieldCreatedAt}, fields...)
	pipe := b.client.Pipeline()
	valsCmd := pipe.HMGet(ctx, b.key(id), all...)
	tombCmd := pipe.Exists(ctx, b.tombstoneKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return record{}, err
	}
	if tombCmd.Val() > 0 {
		return record{expired: true}, nil
	}
	vals := valsCmd.Val()
	rec := record{values: make(map[string]string, len(fields))}
	for i, raw := range vals {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if i == 0 {
			created, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return record{}, fmt.Errorf("parse createdAt: %w", err)
			}
			rec.createdAt = created
			continue
		}
		rec.values[all[i]] = s
	}
	return rec, nil
}

func (b *redisBackend) save(ctx context.Context, id string, values map[string]string, createdAt time.Time) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, 2+2*len(values))
	args = append(args, createdAt.UTC().Format(time.RFC3339Nano), b.gcTTL.Milliseconds())
	for k, v := range values {
		args = append(args, k, v)
	}
	return saveSessionScript.Run(ctx, b.client, []string{b.key(id)}, args...).Err()
}

func (b *redisBackend) remove(ctx context.Context, id string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.client.HDel(ctx, b.key(id), fields...).Err()
}

func (b *redisBackend) expire(ctx context.Context, id string, ttl time.Duration) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.key(id))
		pipe.Set(ctx, b.tombstoneKey(id), "1", ttl)
		return nil
	})
	return err
}

func (b *redisBackend) clear(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id), b.tombstoneKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (b *redisBackend) close() error {
	return b.client.Close()
}
