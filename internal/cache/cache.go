// Package cache memoizes computed effective permissions. The cache is derived
// state only; on any disagreement with the permission collection the
// collection wins, so every backend may drop entries at will.
package cache

import (
	"context"

	"permission-service/internal/models"
)

// EffectiveCache is keyed by (userId, nodeType, nodeId). Implementations:
// Redis for deployment, the in-process map for tests, Noop to disable
// caching entirely.
type EffectiveCache interface {
	Get(ctx context.Context, userID string, node models.NodeRef) (*models.EffectivePermission, bool)
	Set(ctx context.Context, perm *models.EffectivePermission) error
	InvalidateNode(ctx context.Context, node models.NodeRef) error
	InvalidateUser(ctx context.Context, userID string) error
}

// NoopCache never hits and never stores.
type NoopCache struct{}

func NewNoopCache() *NoopCache { return &NoopCache{} }

func (NoopCache) Get(context.Context, string, models.NodeRef) (*models.EffectivePermission, bool) {
	return nil, false
}

func (NoopCache) Set(context.Context, *models.EffectivePermission) error { return nil }

func (NoopCache) InvalidateNode(context.Context, models.NodeRef) error { return nil }

func (NoopCache) InvalidateUser(context.Context, string) error { return nil }
