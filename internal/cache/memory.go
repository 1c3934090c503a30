package cache

import (
	"context"
	"sync"

	"permission-service/internal/models"
)

type memoryKey struct {
	userID   string
	nodeType models.NodeType
	nodeID   string
}

// MemoryCache is the in-process backend. Used in tests and as a fallback when
// Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[memoryKey]models.EffectivePermission
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[memoryKey]models.EffectivePermission),
	}
}

func (c *MemoryCache) Get(_ context.Context, userID string, node models.NodeRef) (*models.EffectivePermission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[memoryKey{userID: userID, nodeType: node.NodeType, nodeID: node.NodeID}]
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (c *MemoryCache) Set(_ context.Context, perm *models.EffectivePermission) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[memoryKey{userID: perm.UserID, nodeType: perm.NodeType, nodeID: perm.NodeID}] = *perm
	return nil
}

func (c *MemoryCache) InvalidateNode(_ context.Context, node models.NodeRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.nodeType == node.NodeType && key.nodeID == node.NodeID {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *MemoryCache) InvalidateUser(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.userID == userID {
			delete(c.entries, key)
		}
	}
	return nil
}

// Len reports the number of live entries. Test helper.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
