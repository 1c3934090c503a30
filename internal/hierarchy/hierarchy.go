// Package hierarchy resolves the containment chain of cabinets, folders and
// documents. Node CRUD belongs to the node services; this engine only reads
// parent pointers and break-inheritance flags, and toggles the flag on
// break/restore.
package hierarchy

import (
	"context"
	"fmt"

	"permission-service/internal/models"
)

// NodeStore is the engine's view of the node hierarchy.
type NodeStore interface {
	// ParentOf returns nil for a cabinet, which terminates every chain.
	ParentOf(ctx context.Context, node models.NodeRef) (*models.NodeRef, error)
	BreakInheritanceFlag(ctx context.Context, node models.NodeRef) (bool, error)
	NodeExists(ctx context.Context, node models.NodeRef) (bool, error)
	SetBreakInheritance(ctx context.Context, node models.NodeRef, broken bool) error
}

// ErrDepthExceeded guards against cycles accidentally introduced in the node
// collections. The containment tree is shallow; hitting the guard means the
// parent pointers are corrupt, not that the tree is deep.
var ErrDepthExceeded = fmt.Errorf("node hierarchy exceeds maximum depth")

type Resolver struct {
	store    NodeStore
	maxDepth int
}

func NewResolver(store NodeStore, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = 32
	}
	return &Resolver{
		store:    store,
		maxDepth: maxDepth,
	}
}

// Chain returns [node, parent, ..., root] in order. Walking stops after the
// first node whose break-inheritance flag is set: that node's own grants
// still apply, its ancestors' do not.
func (r *Resolver) Chain(ctx context.Context, node models.NodeRef) ([]models.NodeRef, error) {
	chain := make([]models.NodeRef, 0, 4)
	current := node

	for depth := 0; ; depth++ {
		if depth >= r.maxDepth {
			return nil, fmt.Errorf("walking ancestors of %s %s: %w", node.NodeType, node.NodeID, ErrDepthExceeded)
		}

		chain = append(chain, current)

		broken, err := r.store.BreakInheritanceFlag(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("reading break flag of %s %s: %w", current.NodeType, current.NodeID, err)
		}
		if broken {
			return chain, nil
		}

		parent, err := r.store.ParentOf(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("resolving parent of %s %s: %w", current.NodeType, current.NodeID, err)
		}
		if parent == nil {
			return chain, nil
		}
		current = *parent
	}
}

// Ancestors returns the chain without the node itself. Empty for a cabinet or
// for a node whose own break flag is set.
func (r *Resolver) Ancestors(ctx context.Context, node models.NodeRef) ([]models.NodeRef, error) {
	broken, err := r.store.BreakInheritanceFlag(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("reading break flag of %s %s: %w", node.NodeType, node.NodeID, err)
	}
	if broken {
		return nil, nil
	}

	parent, err := r.store.ParentOf(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("resolving parent of %s %s: %w", node.NodeType, node.NodeID, err)
	}
	if parent == nil {
		return nil, nil
	}

	return r.Chain(ctx, *parent)
}
