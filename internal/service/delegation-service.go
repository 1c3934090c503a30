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
	"permission-service/internal/identity"
	"permission-service/internal/metrics"
	"permission-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DelegationService manages time-boxed user-to-user grants. The delegator
// must hold every delegated bit at creation time; there is no re-check at
// resolution time, so revoking the delegator's own access later does not
// revoke the delegation automatically.
type DelegationService struct {
	delegations DelegationStore
	effective   *EffectivePermissionService
	audit       AuditStore
	cache       cache.EffectiveCache
	nodes       hierarchy.NodeStore
	identity    identity.Provider
	publisher   events.Publisher
}

func NewDelegationService(
	delegations DelegationStore,
	effective *EffectivePermissionService,
	audit AuditStore,
	effectiveCache cache.EffectiveCache,
	nodes hierarchy.NodeStore,
	identityProvider identity.Provider,
	publisher events.Publisher,
) *DelegationService {
	return &DelegationService{
		delegations: delegations,
		effective:   effective,
		audit:       audit,
		cache:       effectiveCache,
		nodes:       nodes,
		identity:    identityProvider,
		publisher:   publisher,
	}
}

func (s *DelegationService) Create(ctx context.Context, req *models.CreateDelegationRequest, delegatorID string) (*models.PermissionDelegation, error) {
	if err := req.Validate(); err != nil {
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

	held, err := s.effective.Resolve(ctx, delegatorID, node)
	if err != nil {
		return nil, err
	}
	if !held.Covers(req.Level) {
		// Generic denial: no hint about which bits the delegator holds.
		return nil, apperrors.NewAuthorization("cannot delegate a level you do not hold")
	}

	delegation := &models.PermissionDelegation{
		DelegatorID: delegatorID,
		DelegateID:  req.DelegateID,
		NodeType:    req.NodeType,
		NodeID:      req.NodeID,
		Level:       req.Level,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Reason:      req.Reason,
	}

	created, err := s.delegations.New(ctx, delegation)
	if err != nil {
		return nil, err
	}

	entry := &models.PermissionAuditLog{
		Action:        models.AuditActionDelegationCreated,
		NodeType:      created.NodeType,
		NodeID:        created.NodeID,
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   created.DelegateID,
		NewLevel:      created.Level,
		Reason:        created.Reason,
		PerformedBy:   delegatorID,
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		if deactErr := s.delegations.Deactivate(ctx, created.ID); deactErr != nil {
			log.Printf("Failed to roll back unaudited delegation %s: %v", created.ID.Hex(), deactErr)
		}
		return nil, fmt.Errorf("failed to audit delegation: %w", err)
	}

	s.invalidateNode(ctx, node)
	metrics.MutationsTotal.WithLabelValues("delegation_create").Inc()
	s.publish(&events.PermissionEvent{
		EventType:     events.EventTypeDelegationCreated,
		NodeType:      created.NodeType,
		NodeID:        created.NodeID,
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   created.DelegateID,
		NewLevel:      created.Level,
		PerformedBy:   delegatorID,
		Timestamp:     time.Now().Unix(),
	})

	return created, nil
}

// Revoke deactivates a delegation. Only the delegator or an administrator may
// revoke; anyone else gets the same generic denial an unknown id would.
func (s *DelegationService) Revoke(ctx context.Context, id bson.ObjectID, actingUser string) error {
	delegation, err := s.delegations.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if delegation.DelegatorID != actingUser {
		admin, adminErr := s.identity.IsAdministrator(ctx, actingUser)
		if adminErr != nil {
			return fmt.Errorf("failed to check administrator status: %w", adminErr)
		}
		if !admin {
			return apperrors.NewAuthorization("")
		}
	}

	if err := s.delegations.Deactivate(ctx, id); err != nil {
		return err
	}

	entry := &models.PermissionAuditLog{
		Action:        models.AuditActionDelegationRevoked,
		NodeType:      delegation.NodeType,
		NodeID:        delegation.NodeID,
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   delegation.DelegateID,
		OldLevel:      delegation.Level,
		PerformedBy:   actingUser,
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		// A revoke without its audit row may not stand; reactivate unless the
		// delegation was already inactive.
		if delegation.IsActive {
			if undoErr := s.delegations.Reactivate(ctx, id); undoErr != nil {
				log.Printf("Failed to reactivate delegation %s after unaudited revoke: %v", id.Hex(), undoErr)
			}
		}
		return fmt.Errorf("failed to audit delegation revoke: %w", err)
	}

	s.invalidateNode(ctx, models.NodeRef{NodeType: delegation.NodeType, NodeID: delegation.NodeID})
	metrics.MutationsTotal.WithLabelValues("delegation_revoke").Inc()
	s.publish(&events.PermissionEvent{
		EventType:     events.EventTypeDelegationRevoked,
		NodeType:      delegation.NodeType,
		NodeID:        delegation.NodeID,
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   delegation.DelegateID,
		OldLevel:      delegation.Level,
		PerformedBy:   actingUser,
		Timestamp:     time.Now().Unix(),
	})

	return nil
}

// DelegationsByMe lists delegations the user handed out, expired ones swept.
func (s *DelegationService) DelegationsByMe(ctx context.Context, userID string) ([]*models.PermissionDelegation, error) {
	return s.delegations.FindByDelegator(ctx, userID)
}

// DelegationsToMe lists delegations the user received.
func (s *DelegationService) DelegationsToMe(ctx context.Context, userID string) ([]*models.PermissionDelegation, error) {
	return s.delegations.FindByDelegate(ctx, userID)
}

func (s *DelegationService) invalidateNode(ctx context.Context, node models.NodeRef) {
	if err := s.cache.InvalidateNode(ctx, node); err != nil {
		log.Printf("Failed to invalidate cache for %s %s: %v", node.NodeType, node.NodeID, err)
	}
}

func (s *DelegationService) publish(event *events.PermissionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPermissionEvent(event); err != nil {
		log.Printf("Failed to publish %s event: %v", event.EventType, err)
	}
}
