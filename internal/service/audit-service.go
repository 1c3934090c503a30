package service

import (
	"context"

	"permission-service/internal/models"
)

// AuditService exposes read access to the audit trail. Writes happen inside
// the mutation services; there is no public append path.
type AuditService struct {
	audit           AuditStore
	defaultPageSize int
}

func NewAuditService(audit AuditStore, defaultPageSize int) *AuditService {
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	return &AuditService{
		audit:           audit,
		defaultPageSize: defaultPageSize,
	}
}

func (s *AuditService) ForNode(ctx context.Context, node models.NodeRef, take int) ([]*models.PermissionAuditLog, error) {
	return s.audit.FindByNode(ctx, node, s.clamp(take))
}

func (s *AuditService) ForPrincipal(ctx context.Context, principal models.Principal, take int) ([]*models.PermissionAuditLog, error) {
	return s.audit.FindByPrincipal(ctx, principal, s.clamp(take))
}

func (s *AuditService) clamp(take int) int {
	if take <= 0 || take > 500 {
		return s.defaultPageSize
	}
	return take
}
