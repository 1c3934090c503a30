package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"permission-service/internal/models"

	redis_v9 "github.com/redis/go-redis/v9"
)

const keyPrefix = "effperm"

type RedisCache struct {
	client *redis_v9.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis_v9.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func cacheKey(userID string, node models.NodeRef) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, userID, node.NodeType, node.NodeID)
}

func (c *RedisCache) Get(ctx context.Context, userID string, node models.NodeRef) (*models.EffectivePermission, bool) {
	raw, err := c.client.Get(ctx, cacheKey(userID, node)).Bytes()
	if err != nil {
		return nil, false
	}

	var perm models.EffectivePermission
	if err := json.Unmarshal(raw, &perm); err != nil {
		log.Printf("Dropping undecodable cache entry for user %s: %s", userID, err)
		return nil, false
	}
	return &perm, true
}

func (c *RedisCache) Set(ctx context.Context, perm *models.EffectivePermission) error {
	val, err := json.Marshal(perm)
	if err != nil {
		return fmt.Errorf("error encoding effective permission: %w", err)
	}

	key := cacheKey(perm.UserID, models.NodeRef{NodeType: perm.NodeType, NodeID: perm.NodeID})
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("error caching effective permission: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateNode(ctx context.Context, node models.NodeRef) error {
	pattern := fmt.Sprintf("%s:*:%s:%s", keyPrefix, node.NodeType, node.NodeID)
	return c.deleteByPattern(ctx, pattern)
}

func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	pattern := fmt.Sprintf("%s:%s:*", keyPrefix, userID)
	return c.deleteByPattern(ctx, pattern)
}

func (c *RedisCache) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("error scanning cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("error deleting cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
