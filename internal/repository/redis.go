package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"trackresync/internal/config"
	"trackresync/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisPendingStore keeps one sorted set of item ids per record kind, scored by the
// time the marker was first queued (unix milliseconds).
type RedisPendingStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisPendingStore(client *redis.Client, prefix string) *RedisPendingStore {
	if prefix == "" {
		prefix = models.DefaultRedisPendingPrefix
	}
	return &RedisPendingStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisPendingStore) key(kind models.RecordKind) string {
	return fmt.Sprintf("%s:%s", r.prefix, kind)
}

func (r *RedisPendingStore) Add(ctx context.Context, itemID int64, kind models.RecordKind) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if !kind.Valid() {
		return fmt.Errorf("add pending marker: unknown kind %q", kind)
	}
	// NX keeps the original queue time when the marker already exists.
	member := redis.Z{Score: float64(r.now().UTC().UnixMilli()), Member: itemID}
	if err := r.client.ZAddNX(ctx, r.key(kind), member).Err(); err != nil {
		return fmt.Errorf("failed to add pending marker to redis: %w", err)
	}
	return nil
}

func (r *RedisPendingStore) Remove(ctx context.Context, itemID int64, kind models.RecordKind) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.ZRem(ctx, r.key(kind), itemID).Err(); err != nil {
		return fmt.Errorf("failed to remove pending marker from redis: %w", err)
	}
	return nil
}

// List uses ZRANGE, which returns the set as it was when the command executed.
func (r *RedisPendingStore) List(ctx context.Context, kind models.RecordKind) ([]models.PendingMarker, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	members, err := r.client.ZRangeWithScores(ctx, r.key(kind), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending markers from redis: %w", err)
	}

	markers := make([]models.PendingMarker, 0, len(members))
	for _, z := range members {
		raw, _ := z.Member.(string)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt pending marker %q in %s: %w", raw, r.key(kind), err)
		}
		markers = append(markers, models.PendingMarker{
			ItemID:    id,
			Kind:      kind,
			CreatedAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].ItemID < markers[j].ItemID })
	return markers, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
