package kv

import (
	"context"
	"fmt"

	rdb "github.com/redis/go-redis/v9"
)

// Redis guarda cada colección como un hash: HSET {prefix}{collection} key doc.
type Redis struct {
	client *rdb.Client
	prefix string
}

func openRedis(ctx context.Context, cfg Config) (Store, error) {
	client := rdb.NewClient(&rdb.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: redis ping: %w", err)
	}
	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "gk:"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) hkey(collection string) string {
	return r.prefix + collection
}

func (r *Redis) Load(ctx context.Context, collection, key string) ([]byte, error) {
	v, err := r.client.HGet(ctx, r.hkey(collection), key).Bytes()
	if err == rdb.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: redis hget: %w", err)
	}
	return v, nil
}

func (r *Redis) Save(ctx context.Context, collection, key string, doc []byte) error {
	if err := r.client.HSet(ctx, r.hkey(collection), key, doc).Err(); err != nil {
		return fmt.Errorf("kv: redis hset: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, collection, key string) error {
	if err := r.client.HDel(ctx, r.hkey(collection), key).Err(); err != nil {
		return fmt.Errorf("kv: redis hdel: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, collection string) (map[string][]byte, error) {
	m, err := r.client.HGetAll(ctx, r.hkey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: redis hgetall: %w", err)
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

func (r *Redis) Close() error { return r.client.Close() }
