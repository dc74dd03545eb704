package kv

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // Format "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"gatekit:"` // Namespace for all control-plane keys
}

// ConnectRedis establishes a Redis connection with bounded retries and
// returns a store backed by it.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnString, err)
	}

	for i := 0; i < max(cfg.RetryAttempts, 1); i++ {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return NewRedisStore(client, cfg.KeyPrefix), nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrStoreNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrStoreNotReady
}

// RedisStore implements Store on top of Redis. Each record lives in a hash
// with "value" and "version" fields; conditional updates use WATCH so that
// concurrent writers against the same key resolve to a single winner.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an already-connected Redis client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

// Get returns the record stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	if key == "" {
		return Record{}, ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return Record{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return Record{}, errors.Join(ErrStoreUnavailable, err)
	}

	return Record{
		Key:     key,
		Value:   []byte(fields["value"]),
		Version: version,
	}, nil
}

// Put stores value unconditionally and returns the new version.
func (r *RedisStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	var version int64
	fullKey := r.key(key)

	// WATCH-based transaction: bump the version atomically even for
	// unconditional writes so readers always observe a consistent pair.
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, fullKey, "version").Result()
		switch {
		case errors.Is(err, redis.Nil):
			version = 1
		case err != nil:
			return err
		default:
			v, err := strconv.ParseInt(current, 10, 64)
			if err != nil {
				return err
			}
			version = v + 1
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, fullKey, "value", value, "version", version)
			return nil
		})
		return err
	}, fullKey)
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}

	return version, nil
}

// Update stores value only if the current version equals expected.
func (r *RedisStore) Update(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	fullKey := r.key(key)
	version := expected + 1

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, fullKey, "version").Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		v, err := strconv.ParseInt(current, 10, 64)
		if err != nil {
			return err
		}
		if v != expected {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, fullKey, "value", value, "version", version)
			return nil
		})
		return err
	}, fullKey)

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict):
		return 0, err
	case errors.Is(err, redis.TxFailedErr):
		// Another writer touched the key mid-transaction.
		return 0, ErrVersionConflict
	case err != nil:
		return 0, errors.Join(ErrStoreUnavailable, err)
	}

	return version, nil
}

// Delete removes the key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	deleted, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all records whose key starts with prefix. It scans the
// keyspace incrementally, so it is intended for administrative and
// background use, not the hot eligibility path.
func (r *RedisStore) List(ctx context.Context, prefix string) ([]Record, error) {
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	var result []Record
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		key := fullKey[len(r.prefix):]
		rec, err := r.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue // deleted between scan and fetch
		}
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return result, nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
