package service

import (
	"context"

	"permission-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store interfaces narrow the Mongo repositories so the calculator and the
// mutation services can run against in-memory implementations in tests. The
// repository types satisfy them directly.

type PermissionStore interface {
	New(ctx context.Context, p *models.Permission) (*models.Permission, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.Permission, error)
	UpdateMutable(ctx context.Context, id bson.ObjectID, version int64, req *models.UpdatePermissionRequest) (*models.Permission, error)
	Delete(ctx context.Context, id bson.ObjectID, version int64) error
	FindByNode(ctx context.Context, node models.NodeRef) ([]*models.Permission, error)
	FindForNodes(ctx context.Context, nodes []models.NodeRef) ([]*models.Permission, error)
}

type DelegationStore interface {
	New(ctx context.Context, d *models.PermissionDelegation) (*models.PermissionDelegation, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionDelegation, error)
	Deactivate(ctx context.Context, id bson.ObjectID) error
	Reactivate(ctx context.Context, id bson.ObjectID) error
	FindActiveForDelegate(ctx context.Context, delegateID string, node models.NodeRef) ([]*models.PermissionDelegation, error)
	FindByDelegator(ctx context.Context, delegatorID string) ([]*models.PermissionDelegation, error)
	FindByDelegate(ctx context.Context, delegateID string) ([]*models.PermissionDelegation, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry *models.PermissionAuditLog) (*models.PermissionAuditLog, error)
	FindByNode(ctx context.Context, node models.NodeRef, take int) ([]*models.PermissionAuditLog, error)
	FindByPrincipal(ctx context.Context, principal models.Principal, take int) ([]*models.PermissionAuditLog, error)
}
