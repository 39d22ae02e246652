package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

const maxWatchRetries = 5

// RedisStore keeps each cart as a JSON array under cart:{ownerId}. Concurrent
// adds to the same cart are serialized with WATCH.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) Add(ctx context.Context, ownerID string, item domain.CartItem) ([]domain.CartItem, error) {
	items, err := s.update(ctx, ownerID, func(current []domain.CartItem) []domain.CartItem {
		return merge(current, item)
	})
	if err != nil {
		return nil, fmt.Errorf("redis add failed: %w", err)
	}
	return items, nil
}

// Remove subtracts the snapshot inside the same WATCH transaction as Add, so
// an item added while the checkout was being delivered is kept.
func (s *RedisStore) Remove(ctx context.Context, snapshot domain.CartSnapshot) error {
	_, err := s.update(ctx, snapshot.OwnerID, func(current []domain.CartItem) []domain.CartItem {
		return subtract(current, snapshot.Items)
	})
	if err != nil {
		return fmt.Errorf("redis remove failed: %w", err)
	}
	return nil
}

// update applies fn to the stored cart and writes the result back only if the
// key did not change in between. An empty result deletes the key.
func (s *RedisStore) update(ctx context.Context, ownerID string, fn func([]domain.CartItem) []domain.CartItem) ([]domain.CartItem, error) {
	key := cartKey(ownerID)
	var items []domain.CartItem

	txf := func(tx *redis.Tx) error {
		current, err := readItems(ctx, tx, key)
		if err != nil {
			return err
		}
		items = fn(current)

		if len(items) == 0 {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}

		data, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("marshal cart failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return items, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("cart %s changed concurrently %d times", ownerID, maxWatchRetries)
}

func (s *RedisStore) Snapshot(ctx context.Context, ownerID string) (domain.CartSnapshot, error) {
	items, err := readItems(ctx, s.client, cartKey(ownerID))
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	if items == nil {
		items = []domain.CartItem{}
	}

	return domain.CartSnapshot{
		OwnerID:    ownerID,
		Items:      items,
		CapturedAt: s.now().UTC(),
	}, nil
}

func (s *RedisStore) Clear(ctx context.Context, ownerID string) error {
	if err := s.client.Del(ctx, cartKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readItems(ctx context.Context, c getter, key string) ([]domain.CartItem, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var items []domain.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return items, nil
}

func cartKey(ownerID string) string {
	return fmt.Sprintf("cart:%s", ownerID)
}
