package repository

import (
	"context"
	"fmt"
	"time"

	"permission-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AuditRepository is append-only. There is deliberately no update or delete
// method; the audit trail outlives every grant it describes.
type AuditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{
		collection: db.Collection("permissionAuditLogs"),
	}
}

func (r *AuditRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "nodeType", Value: 1}, {Key: "nodeId", Value: 1}, {Key: "performedAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "principalType", Value: 1}, {Key: "principalId", Value: 1}, {Key: "performedAt", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (r *AuditRepository) Append(ctx context.Context, entry *models.PermissionAuditLog) (*models.PermissionAuditLog, error) {
	if entry.ID.IsZero() {
		entry.ID = bson.NewObjectID()
	}
	if entry.PerformedAt == 0 {
		entry.PerformedAt = time.Now().Unix()
	}

	_, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

func (r *AuditRepository) FindByNode(ctx context.Context, node models.NodeRef, take int) ([]*models.PermissionAuditLog, error) {
	filter := bson.M{"nodeType": node.NodeType, "nodeId": node.NodeID}
	return r.find(ctx, filter, take)
}

func (r *AuditRepository) FindByPrincipal(ctx context.Context, principal models.Principal, take int) ([]*models.PermissionAuditLog, error) {
	filter := bson.M{"principalType": principal.PrincipalType, "principalId": principal.PrincipalID}
	return r.find(ctx, filter, take)
}

func (r *AuditRepository) find(ctx context.Context, filter bson.M, take int) ([]*models.PermissionAuditLog, error) {
	opts := options.Find()
	opts.SetSort(bson.M{"performedAt": -1})
	if take > 0 {
		opts.SetLimit(int64(take))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*models.PermissionAuditLog
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}
	return entries, nil
}
