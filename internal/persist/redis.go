// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// REDIS BACKEND
// =============================================================================

const (
	redisKeyPrefix = "ragchat:conversation:"
	redisIndexKey  = "ragchat:conversations"
)

// RedisBackend stores each conversation as a JSON value and keeps a sorted
// set of ids scored by update time for listings.
type RedisBackend struct {
	client *redis.Client
	// TTL expires idle conversations (0 = keep forever).
	TTL time.Duration
}

// NewRedisBackend connects to addr and verifies the connection.
func NewRedisBackend(ctx context.Context, addr string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Save writes the conversation, keeping the stored creation time.
func (b *RedisBackend) Save(ctx context.Context, rec Record) error {
	if !ValidID(rec.ID) {
		return ErrInvalidID
	}
	key := b.key(rec.ID)

	return b.client.Watch(ctx, func(tx *redis.Tx) error {
		if existing, err := b.get(ctx, tx, rec.ID); err == nil && !existing.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.UpdatedAt
		}
		if len(rec.Messages) == 0 {
			rec.Messages = json.RawMessage("[]")
		}

		val, err := json.Marshal(storedConversation(rec))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, b.TTL)
			pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(rec.UpdatedAt.UnixMilli()), Member: rec.ID})
			return nil
		})
		return err
	}, key)
}

// Load reads one conversation.
func (b *RedisBackend) Load(ctx context.Context, id string) (Record, error) {
	if !ValidID(id) {
		return Record{}, ErrInvalidID
	}
	return b.get(ctx, b.client, id)
}

// List pages through the index, most recently updated first. Ids whose
// value expired are dropped from the index as they are found.
func (b *RedisBackend) List(ctx context.Context, page, perPage int) (Page, error) {
	page, perPage = normalizePage(page, perPage)

	total, err := b.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return Page{}, err
	}
	p := Page{Page: page, PerPage: perPage, Total: int(total), Items: []Summary{}}

	start := int64((page - 1) * perPage)
	ids, err := b.client.ZRevRange(ctx, redisIndexKey, start, start+int64(perPage)-1).Result()
	if err != nil || len(ids) == 0 {
		return p, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.key(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Page{}, err
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			b.client.ZRem(ctx, redisIndexKey, ids[i])
			continue
		}
		var stored storedConversation
		if err := json.Unmarshal([]byte(s), &stored); err != nil {
			continue
		}
		p.Items = append(p.Items, Summarize(Record(stored)))
	}
	return p, nil
}

// Delete removes one conversation.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	var del *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, b.key(id))
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) get(ctx context.Context, c redisGetter, id string) (Record, error) {
	val, err := c.Get(ctx, b.key(id)).Result()
	if err == redis.Nil {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var stored storedConversation
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return Record{}, fmt.Errorf("corrupt conversation %s: %w", id, err)
	}
	return Record(stored), nil
}

// redisGetter is satisfied by both *redis.Client and *redis.Tx.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (b *RedisBackend) key(id string) string {
	return redisKeyPrefix + id
}
