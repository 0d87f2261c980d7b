package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var errStale = errors.New("stale document version")

// RedisBackend keeps each root document in a hash holding the encoded body and
// its version. Swaps run inside WATCH/MULTI so concurrent writers from other
// processes are detected.
type RedisBackend struct {
	c      *redis.Client
	prefix string
}

func NewRedisBackend(c *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{c: c, prefix: prefix}
}

func (r *RedisBackend) key(root string) string {
	return r.prefix + root
}

func (r *RedisBackend) Load(ctx context.Context, root string) (map[string]any, int64, error) {
	vals, err := r.c.HMGet(ctx, r.key(root), "body", "version").Result()
	if err != nil {
		return nil, 0, err
	}

	body, ok := vals[0].(string)
	if !ok {
		return nil, 0, nil
	}

	verStr, _ := vals[1].(string)
	version, err := strconv.ParseInt(verStr, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("malformed version for %s, %w", root, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, 0, fmt.Errorf("malformed document %s, %w", root, err)
	}

	return doc, version, nil
}

func (r *RedisBackend) Swap(ctx context.Context, root string, doc map[string]any, version int64) (bool, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}

	key := r.key(root)

	err = r.c.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if cur != version {
			return errStale
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "body", body, "version", version+1)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}
