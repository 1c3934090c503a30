package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"permission-service/internal/apperrors"
	"permission-service/internal/cache"
	"permission-service/internal/events"
	"permission-service/internal/hierarchy"
	"permission-service/internal/metrics"
	"permission-service/internal/models"
)

// InheritanceService toggles the break-inheritance flag and optionally
// materializes inherited access as direct grants at the break point.
type InheritanceService struct {
	permissions PermissionStore
	audit       AuditStore
	cache       cache.EffectiveCache
	nodes       hierarchy.NodeStore
	resolver    *hierarchy.Resolver
	publisher   events.Publisher
}

func NewInheritanceService(
	permissions PermissionStore,
	audit AuditStore,
	effectiveCache cache.EffectiveCache,
	nodes hierarchy.NodeStore,
	resolver *hierarchy.Resolver,
	publisher events.Publisher,
) *InheritanceService {
	return &InheritanceService{
		permissions: permissions,
		audit:       audit,
		cache:       effectiveCache,
		nodes:       nodes,
		resolver:    resolver,
		publisher:   publisher,
	}
}

// Break sets the break-inheritance flag. With copyPermissions the grants
// currently inherited from ancestors are first materialized as direct grants
// on this node, one per principal with the unioned level, so observed access
// is unchanged at the moment of the break. Materialized grants are
// independently owned afterwards; later ancestor changes do not propagate.
// Breaking a cabinet is a no-op that still succeeds and is audited.
func (s *InheritanceService) Break(ctx context.Context, node models.NodeRef, actingUser string, copyPermissions bool) error {
	// Documents never carry the flag.
	if node.NodeType == models.NodeTypeDocument {
		return apperrors.NewValidation("nodeType", "documents do not carry a break-inheritance flag")
	}

	exists, err := s.nodes.NodeExists(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to resolve node: %w", err)
	}
	if !exists {
		return apperrors.NewNotFound(string(node.NodeType), node.NodeID)
	}

	wasBroken, err := s.nodes.BreakInheritanceFlag(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to read break flag: %w", err)
	}

	var materialized []*models.Permission
	if copyPermissions {
		materialized, err = s.materializeInherited(ctx, node, actingUser)
		if err != nil {
			return err
		}
	}

	if err := s.nodes.SetBreakInheritance(ctx, node, true); err != nil {
		s.removeMaterialized(ctx, materialized)
		return err
	}

	entry := &models.PermissionAuditLog{
		Action:      models.AuditActionBreakInheritance,
		NodeType:    node.NodeType,
		NodeID:      node.NodeID,
		PerformedBy: actingUser,
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		// A break without its audit row may not stand; unwind the flag and
		// the copied grants.
		if undoErr := s.nodes.SetBreakInheritance(ctx, node, wasBroken); undoErr != nil {
			log.Printf("Failed to unwind break flag on %s %s: %v", node.NodeType, node.NodeID, undoErr)
		}
		s.removeMaterialized(ctx, materialized)
		return fmt.Errorf("failed to audit inheritance break: %w", err)
	}

	s.invalidateNode(ctx, node)
	metrics.MutationsTotal.WithLabelValues("break_inheritance").Inc()
	s.publish(&events.PermissionEvent{
		EventType:   events.EventTypeInheritanceBroken,
		NodeType:    node.NodeType,
		NodeID:      node.NodeID,
		PerformedBy: actingUser,
		Timestamp:   time.Now().Unix(),
	})

	return nil
}

// Restore clears the flag. Direct grants on the node, materialized or not,
// are left untouched; removing now-redundant ones is a separate, explicit
// revoke decision for the caller.
func (s *InheritanceService) Restore(ctx context.Context, node models.NodeRef, actingUser string) error {
	exists, err := s.nodes.NodeExists(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to resolve node: %w", err)
	}
	if !exists {
		return apperrors.NewNotFound(string(node.NodeType), node.NodeID)
	}

	wasBroken, err := s.nodes.BreakInheritanceFlag(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to read break flag: %w", err)
	}

	if err := s.nodes.SetBreakInheritance(ctx, node, false); err != nil {
		return err
	}

	entry := &models.PermissionAuditLog{
		Action:      models.AuditActionRestoreInheritance,
		NodeType:    node.NodeType,
		NodeID:      node.NodeID,
		PerformedBy: actingUser,
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		// A restore without its audit row may not stand; put the flag back.
		if undoErr := s.nodes.SetBreakInheritance(ctx, node, wasBroken); undoErr != nil {
			log.Printf("Failed to unwind restore on %s %s: %v", node.NodeType, node.NodeID, undoErr)
		}
		return fmt.Errorf("failed to audit inheritance restore: %w", err)
	}

	s.invalidateNode(ctx, node)
	metrics.MutationsTotal.WithLabelValues("restore_inheritance").Inc()
	s.publish(&events.PermissionEvent{
		EventType:   events.EventTypeInheritanceRestore,
		NodeType:    node.NodeType,
		NodeID:      node.NodeID,
		PerformedBy: actingUser,
		Timestamp:   time.Now().Unix(),
	})

	return nil
}

type materializedGrant struct {
	level                  models.PermissionLevel
	includeChildStructures bool
}

// materializeInherited copies the non-expired grants found on strict
// ancestors onto the node itself, aggregated per principal. Runs before the
// flag flips so the ancestor walk still sees the unbroken chain. The created
// grants are returned so a failure later in Break can remove them again.
func (s *InheritanceService) materializeInherited(ctx context.Context, node models.NodeRef, actingUser string) ([]*models.Permission, error) {
	ancestors, err := s.resolver.Ancestors(ctx, node)
	if err != nil {
		return nil, err
	}
	if len(ancestors) == 0 {
		return nil, nil
	}

	inherited, err := s.permissions.FindForNodes(ctx, ancestors)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	aggregated := make(map[models.Principal]materializedGrant)
	order := make([]models.Principal, 0, len(inherited))

	for _, grant := range inherited {
		if grant.Expired(now) {
			continue
		}
		principal := grant.Principal()
		entry, seen := aggregated[principal]
		if !seen {
			order = append(order, principal)
		}
		entry.level |= grant.Level
		entry.includeChildStructures = entry.includeChildStructures || grant.IncludeChildStructures
		aggregated[principal] = entry
	}

	created := make([]*models.Permission, 0, len(order))
	for _, principal := range order {
		entry := aggregated[principal]
		copied := &models.Permission{
			NodeType:               node.NodeType,
			NodeID:                 node.NodeID,
			PrincipalType:          principal.PrincipalType,
			PrincipalID:            principal.PrincipalID,
			Level:                  entry.level,
			IncludeChildStructures: entry.includeChildStructures,
			GrantedReason:          "materialized on inheritance break",
			GrantedBy:              actingUser,
		}
		stored, err := s.permissions.New(ctx, copied)
		if err != nil {
			s.removeMaterialized(ctx, created)
			return nil, fmt.Errorf("failed to materialize inherited grant for %s %s: %w",
				principal.PrincipalType, principal.PrincipalID, err)
		}
		created = append(created, stored)
	}

	return created, nil
}

func (s *InheritanceService) removeMaterialized(ctx context.Context, grants []*models.Permission) {
	for _, grant := range grants {
		if err := s.permissions.Delete(ctx, grant.ID, grant.Version); err != nil {
			log.Printf("Failed to remove materialized grant %s during unwind: %v", grant.ID.Hex(), err)
		}
	}
}

func (s *InheritanceService) invalidateNode(ctx context.Context, node models.NodeRef) {
	if err := s.cache.InvalidateNode(ctx, node); err != nil {
		log.Printf("Failed to invalidate cache for %s %s: %v", node.NodeType, node.NodeID, err)
	}
}

func (s *InheritanceService) publish(event *events.PermissionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPermissionEvent(event); err != nil {
		log.Printf("Failed to publish %s event: %v", event.EventType, err)
	}
}
