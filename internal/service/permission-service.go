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

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PermissionService owns the grant lifecycle. Every mutation writes an audit
// row and invalidates the cache for the mutated node before returning;
// descendants are deliberately left to recompute lazily.
type PermissionService struct {
	permissions PermissionStore
	audit       AuditStore
	cache       cache.EffectiveCache
	nodes       hierarchy.NodeStore
	publisher   events.Publisher
}

func NewPermissionService(
	permissions PermissionStore,
	audit AuditStore,
	effectiveCache cache.EffectiveCache,
	nodes hierarchy.NodeStore,
	publisher events.Publisher,
) *PermissionService {
	return &PermissionService{
		permissions: permissions,
		audit:       audit,
		cache:       effectiveCache,
		nodes:       nodes,
		publisher:   publisher,
	}
}

func (s *PermissionService) Grant(ctx context.Context, req *models.GrantPermissionRequest, actingUser string) (*models.Permission, error) {
	now := time.Now().Unix()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	node := models.NodeRef{NodeType: req.NodeType, NodeID: req.NodeID}
	exists, err := s.nodes.NodeExists(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node: %w", err)
	}
	if !exists {
		return nil, apperrors.NewNotFound(string(req.NodeType), req.NodeID)
	}

	permission := &models.Permission{
		NodeType:               req.NodeType,
		NodeID:                 req.NodeID,
		PrincipalType:          req.PrincipalType,
		PrincipalID:            req.PrincipalID,
		Level:                  req.Level,
		IncludeChildStructures: req.IncludeChildStructures,
		ExpiresAt:              req.ExpiresAt,
		GrantedReason:          req.GrantedReason,
		GrantedBy:              actingUser,
	}

	created, err := s.permissions.New(ctx, permission)
	if err != nil {
		return nil, err
	}

	entry := &models.PermissionAuditLog{
		Action:        models.AuditActionGrant,
		NodeType:      created.NodeType,
		NodeID:        created.NodeID,
		PrincipalType: created.PrincipalType,
		PrincipalID:   created.PrincipalID,
		NewLevel:      created.Level,
		Reason:        created.GrantedReason,
		PerformedBy:   actingUser,
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		// A grant without its audit row may not survive; undo the insert.
		if delErr := s.permissions.Delete(ctx, created.ID, created.Version); delErr != nil {
			log.Printf("Failed to roll back unaudited grant %s: %v", created.ID.Hex(), delErr)
		}
		return nil, fmt.Errorf("failed to audit grant: %w", err)
	}

	s.invalidateNode(ctx, node)
	metrics.MutationsTotal.WithLabelValues("grant").Inc()
	s.publish(&events.PermissionEvent{
		EventType:     events.EventTypePermissionGranted,
		NodeType:      created.NodeType,
		NodeID:        created.NodeID,
		PrincipalType: created.PrincipalType,
		PrincipalID:   created.PrincipalID,
		NewLevel:      created.Level,
		PerformedBy:   actingUser,
		Timestamp:     time.Now().Unix(),
	})

	return created, nil
}

func (s *PermissionService) Update(ctx context.Context, id bson.ObjectID, req *models.UpdatePermissionRequest, actingUser string) (*models.Permission, error) {
	now := time.Now().Unix()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	existing, err := s.permissions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IncludeChildStructures && existing.PrincipalType != models.PrincipalTypeStructure {
		return nil, apperrors.NewValidation("includeChildStructures", "only meaningful for structure principals")
	}

	updated, err := s.permissions.UpdateMutable(ctx, id, existing.Version, req)
	if err != nil {
		return nil, err
	}

	entry := &models.PermissionAuditLog{
		Action:        models.AuditActionUpdate,
		NodeType:      updated.NodeType,
		NodeID:        updated.NodeID,
		PrincipalType: updated.PrincipalType,
		PrincipalID:   updated.PrincipalID,
		OldLevel:      existing.Level,
		NewLevel:      updated.Level,
		Reason:        updated.GrantedReason,
		PerformedBy:   actingUser,
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		// An update without its audit row may not stand; write back the
		// previous mutable fields.
		revert := &models.UpdatePermissionRequest{
			Level:                  existing.Level,
			IncludeChildStructures: existing.IncludeChildStructures,
			ExpiresAt:              existing.ExpiresAt,
			GrantedReason:          existing.GrantedReason,
		}
		if _, undoErr := s.permissions.UpdateMutable(ctx, id, updated.Version, revert); undoErr != nil {
			log.Printf("Failed to roll back unaudited update of %s: %v", id.Hex(), undoErr)
		}
		return nil, fmt.Errorf("failed to audit update: %w", err)
	}

	s.invalidateNode(ctx, updated.Node())
	metrics.MutationsTotal.WithLabelValues("update").Inc()
	s.publish(&events.PermissionEvent{
		EventType:     events.EventTypePermissionUpdated,
		NodeType:      updated.NodeType,
		NodeID:        updated.NodeID,
		PrincipalType: updated.PrincipalType,
		PrincipalID:   updated.PrincipalID,
		OldLevel:      existing.Level,
		NewLevel:      updated.Level,
		PerformedBy:   actingUser,
		Timestamp:     time.Now().Unix(),
	})

	return updated, nil
}

func (s *PermissionService) Revoke(ctx context.Context, id bson.ObjectID, actingUser string) error {
	existing, err := s.permissions.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.permissions.Delete(ctx, id, existing.Version); err != nil {
		return err
	}

	entry := &models.PermissionAuditLog{
		Action:        models.AuditActionRevoke,
		NodeType:      existing.NodeType,
		NodeID:        existing.NodeID,
		PrincipalType: existing.PrincipalType,
		PrincipalID:   existing.PrincipalID,
		OldLevel:      existing.Level,
		PerformedBy:   actingUser,
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		// A deletion without its audit row may not stand; put the grant back
		// under its original id and version.
		if _, reErr := s.permissions.New(ctx, existing); reErr != nil {
			log.Printf("Failed to restore grant %s after unaudited revoke: %v", id.Hex(), reErr)
		}
		return fmt.Errorf("failed to audit revoke: %w", err)
	}

	s.invalidateNode(ctx, existing.Node())
	metrics.MutationsTotal.WithLabelValues("revoke").Inc()
	s.publish(&events.PermissionEvent{
		EventType:     events.EventTypePermissionRevoked,
		NodeType:      existing.NodeType,
		NodeID:        existing.NodeID,
		PrincipalType: existing.PrincipalType,
		PrincipalID:   existing.PrincipalID,
		OldLevel:      existing.Level,
		PerformedBy:   actingUser,
		Timestamp:     time.Now().Unix(),
	})

	return nil
}

// Get returns a single grant by id.
func (s *PermissionService) Get(ctx context.Context, id bson.ObjectID) (*models.Permission, error) {
	return s.permissions.FindByID(ctx, id)
}

// ListForNode returns the direct grants on a node, expired grants included;
// expiry only filters resolution, not listing.
func (s *PermissionService) ListForNode(ctx context.Context, node models.NodeRef) ([]*models.Permission, error) {
	exists, err := s.nodes.NodeExists(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node: %w", err)
	}
	if !exists {
		return nil, apperrors.NewNotFound(string(node.NodeType), node.NodeID)
	}
	return s.permissions.FindByNode(ctx, node)
}

// PrincipalMatrix groups the direct grants on a node by principal type with
// resolved level names. Administrative diagnostic surface.
type PrincipalMatrix struct {
	Node  models.NodeRef       `json:"node"`
	Users []PrincipalMatrixRow `json:"users"`
	Roles []PrincipalMatrixRow `json:"roles"`
	Orgs  []PrincipalMatrixRow `json:"structures"`
}

type PrincipalMatrixRow struct {
	PrincipalID            string                 `json:"principalId"`
	Level                  models.PermissionLevel `json:"level"`
	LevelNames             []string               `json:"levelNames"`
	IncludeChildStructures bool                   `json:"includeChildStructures,omitempty"`
	ExpiresAt              int64                  `json:"expiresAt,omitempty"`
}

func (s *PermissionService) MatrixForNode(ctx context.Context, node models.NodeRef) (*PrincipalMatrix, error) {
	grants, err := s.ListForNode(ctx, node)
	if err != nil {
		return nil, err
	}

	matrix := &PrincipalMatrix{Node: node}
	for _, grant := range grants {
		row := PrincipalMatrixRow{
			PrincipalID:            grant.PrincipalID,
			Level:                  grant.Level,
			LevelNames:             grant.Level.Names(),
			IncludeChildStructures: grant.IncludeChildStructures,
			ExpiresAt:              grant.ExpiresAt,
		}
		switch grant.PrincipalType {
		case models.PrincipalTypeUser:
			matrix.Users = append(matrix.Users, row)
		case models.PrincipalTypeRole:
			matrix.Roles = append(matrix.Roles, row)
		case models.PrincipalTypeStructure:
			matrix.Orgs = append(matrix.Orgs, row)
		}
	}
	return matrix, nil
}

// invalidateNode clears cached resolutions for the mutated node before the
// mutating call returns, so an immediate re-check cannot observe stale access.
func (s *PermissionService) invalidateNode(ctx context.Context, node models.NodeRef) {
	if err := s.cache.InvalidateNode(ctx, node); err != nil {
		log.Printf("Failed to invalidate cache for %s %s: %v", node.NodeType, node.NodeID, err)
	}
}

func (s *PermissionService) publish(event *events.PermissionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPermissionEvent(event); err != nil {
		log.Printf("Failed to publish %s event: %v", event.EventType, err)
	}
}
