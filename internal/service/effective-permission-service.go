package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"permission-service/internal/cache"
	"permission-service/internal/hierarchy"
	"permission-service/internal/identity"
	"permission-service/internal/metrics"
	"permission-service/internal/models"
)

// EffectivePermissionService is the calculator: it combines direct grants,
// inherited grants, role and structure membership and active delegations into
// one resolved level per (user, node), memoized in the cache.
type EffectivePermissionService struct {
	permissions PermissionStore
	delegations DelegationStore
	resolver    *hierarchy.Resolver
	identity    identity.Provider
	cache       cache.EffectiveCache
}

func NewEffectivePermissionService(
	permissions PermissionStore,
	delegations DelegationStore,
	resolver *hierarchy.Resolver,
	identityProvider identity.Provider,
	effectiveCache cache.EffectiveCache,
) *EffectivePermissionService {
	return &EffectivePermissionService{
		permissions: permissions,
		delegations: delegations,
		resolver:    resolver,
		identity:    identityProvider,
		cache:       effectiveCache,
	}
}

// Resolve returns the effective level of a user on a node, possibly zero.
// Administrators short-circuit to the full mask without touching the cache.
func (s *EffectivePermissionService) Resolve(ctx context.Context, userID string, node models.NodeRef) (models.PermissionLevel, error) {
	admin, err := s.identity.IsAdministrator(ctx, userID)
	if err != nil {
		return models.LevelNone, fmt.Errorf("failed to check administrator status: %w", err)
	}
	if admin {
		metrics.AdminBypassTotal.Inc()
		return models.LevelFull, nil
	}

	if cached, ok := s.cache.Get(ctx, userID, node); ok {
		metrics.CacheHits.Inc()
		return cached.Level, nil
	}
	metrics.CacheMisses.Inc()

	level, _, err := s.compute(ctx, userID, node)
	if err != nil {
		return models.LevelNone, err
	}

	entry := &models.EffectivePermission{
		NodeType:   node.NodeType,
		NodeID:     node.NodeID,
		UserID:     userID,
		Level:      level,
		ComputedAt: time.Now().Unix(),
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		// A failed cache write only costs a recomputation later.
		log.Printf("Failed to cache effective permission for user %s: %v", userID, err)
	}

	return level, nil
}

// HasPermission reports whether every requested bit is present in the user's
// effective level on the node.
func (s *EffectivePermissionService) HasPermission(ctx context.Context, userID string, node models.NodeRef, required models.PermissionLevel) (bool, error) {
	level, err := s.Resolve(ctx, userID, node)
	if err != nil {
		return false, err
	}

	granted := level.Covers(required)
	if granted {
		metrics.ChecksTotal.WithLabelValues("granted").Inc()
	} else {
		metrics.ChecksTotal.WithLabelValues("denied").Inc()
	}
	return granted, nil
}

// ResolveDetail recomputes from the stores (never from cache) and reports
// which source contributed which bits. Diagnostic output; the decision itself
// is the plain union.
func (s *EffectivePermissionService) ResolveDetail(ctx context.Context, userID string, node models.NodeRef) (*models.EffectivePermissionDetail, error) {
	computedAt := time.Now().Unix()

	admin, err := s.identity.IsAdministrator(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check administrator status: %w", err)
	}
	if admin {
		return &models.EffectivePermissionDetail{
			NodeType:   node.NodeType,
			NodeID:     node.NodeID,
			UserID:     userID,
			Level:      models.LevelFull,
			LevelNames: models.LevelFull.Names(),
			Sources: []models.SourceContribution{
				{
					Source:   models.SourceAdministrator,
					NodeType: node.NodeType,
					NodeID:   node.NodeID,
					Level:    models.LevelFull,
				},
			},
			ComputedAt: computedAt,
		}, nil
	}

	level, sources, err := s.compute(ctx, userID, node)
	if err != nil {
		return nil, err
	}

	return &models.EffectivePermissionDetail{
		NodeType:   node.NodeType,
		NodeID:     node.NodeID,
		UserID:     userID,
		Level:      level,
		LevelNames: level.Names(),
		Sources:    sources,
		ComputedAt: computedAt,
	}, nil
}

// compute is the cache-free resolution. It must stay idempotent and free of
// side effects; break-with-copy and delegation checks both rely on that.
func (s *EffectivePermissionService) compute(ctx context.Context, userID string, node models.NodeRef) (models.PermissionLevel, []models.SourceContribution, error) {
	chain, err := s.resolver.Chain(ctx, node)
	if err != nil {
		return models.LevelNone, nil, err
	}

	principals, err := identity.Expand(ctx, s.identity, userID)
	if err != nil {
		return models.LevelNone, nil, fmt.Errorf("failed to expand principals for user %s: %w", userID, err)
	}

	grants, err := s.permissions.FindForNodes(ctx, chain)
	if err != nil {
		return models.LevelNone, nil, err
	}

	now := time.Now().Unix()
	level := models.LevelNone
	var sources []models.SourceContribution

	for _, grant := range grants {
		if grant.Expired(now) {
			continue
		}
		if !principals.GrantApplies(grant) {
			continue
		}

		level |= grant.Level
		sources = append(sources, models.SourceContribution{
			Source:        grantSource(grant, node),
			NodeType:      grant.NodeType,
			NodeID:        grant.NodeID,
			PrincipalType: grant.PrincipalType,
			PrincipalID:   grant.PrincipalID,
			Level:         grant.Level,
			RecordID:      grant.ID.Hex(),
		})
	}

	delegations, err := s.delegations.FindActiveForDelegate(ctx, userID, node)
	if err != nil {
		return models.LevelNone, nil, err
	}
	for _, delegation := range delegations {
		if !delegation.ActiveAt(now) {
			continue
		}
		level |= delegation.Level
		sources = append(sources, models.SourceContribution{
			Source:        models.SourceDelegation,
			NodeType:      delegation.NodeType,
			NodeID:        delegation.NodeID,
			PrincipalType: models.PrincipalTypeUser,
			PrincipalID:   delegation.DelegatorID,
			Level:         delegation.Level,
			RecordID:      delegation.ID.Hex(),
		})
	}

	return level, sources, nil
}

func grantSource(grant *models.Permission, queried models.NodeRef) models.PermissionSource {
	switch grant.PrincipalType {
	case models.PrincipalTypeRole:
		return models.SourceRole
	case models.PrincipalTypeStructure:
		return models.SourceStructure
	}
	if grant.NodeType == queried.NodeType && grant.NodeID == queried.NodeID {
		return models.SourceDirect
	}
	return models.SourceInherited
}

// InvalidateNodeCache and InvalidateUserCache back the administrative cache
// endpoints and the membership-change consumer.
func (s *EffectivePermissionService) InvalidateNodeCache(ctx context.Context, node models.NodeRef) error {
	return s.cache.InvalidateNode(ctx, node)
}

func (s *EffectivePermissionService) InvalidateUserCache(ctx context.Context, userID string) error {
	return s.cache.InvalidateUser(ctx, userID)
}
