package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"permission-service/internal/apperrors"
	"permission-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type PermissionRepository struct {
	collection *mongo.Collection
}

func NewPermissionRepository(db *mongo.Database) *PermissionRepository {
	return &PermissionRepository{
		collection: db.Collection("permissions"),
	}
}

func (r *PermissionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "nodeType", Value: 1}, {Key: "nodeId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "principalType", Value: 1}, {Key: "principalId", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create permission indexes: %w", err)
	}
	return nil
}

func (r *PermissionRepository) New(ctx context.Context, p *models.Permission) (*models.Permission, error) {
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}

	currentTime := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = currentTime
	}
	p.UpdatedAt = currentTime
	if p.Version == 0 {
		p.Version = 1
	}

	_, err := r.collection.InsertOne(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to insert permission: %w", err)
	}
	return p, nil
}

func (r *PermissionRepository) FindByID(ctx context.Context, id bson.ObjectID) (*models.Permission, error) {
	var permission models.Permission
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&permission)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NewNotFound("permission", id.Hex())
		}
		return nil, fmt.Errorf("failed to load permission: %w", err)
	}
	return &permission, nil
}

// UpdateMutable replaces the mutable subset of a grant, guarded by the row
// version. A version mismatch means a concurrent Update or Revoke won; the
// loser gets a ConcurrencyError and must re-read and retry.
func (r *PermissionRepository) UpdateMutable(ctx context.Context, id bson.ObjectID, version int64, req *models.UpdatePermissionRequest) (*models.Permission, error) {
	filter := bson.M{"_id": id, "version": version}
	update := bson.M{
		"$set": bson.M{
			"level":                  req.Level,
			"includeChildStructures": req.IncludeChildStructures,
			"expiresAt":              req.ExpiresAt,
			"grantedReason":          req.GrantedReason,
			"updatedAt":              time.Now().Unix(),
		},
		"$inc": bson.M{"version": 1},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Permission
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish a missing row from a lost version race.
			if _, findErr := r.FindByID(ctx, id); findErr != nil {
				return nil, findErr
			}
			return nil, apperrors.NewConcurrency("permission", id.Hex())
		}
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}
	return &updated, nil
}

// Delete removes the grant row, guarded by the row version like UpdateMutable.
func (r *PermissionRepository) Delete(ctx context.Context, id bson.ObjectID, version int64) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "version": version})
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if result.DeletedCount == 0 {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return findErr
		}
		return apperrors.NewConcurrency("permission", id.Hex())
	}
	return nil
}

// FindByNode lists the direct grants on one node, expired ones included.
func (r *PermissionRepository) FindByNode(ctx context.Context, node models.NodeRef) ([]*models.Permission, error) {
	filter := bson.M{"nodeType": node.NodeType, "nodeId": node.NodeID}

	opts := options.Find()
	opts.SetSort(bson.M{"createdAt": 1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find permissions: %w", err)
	}
	defer cursor.Close(ctx)

	var permissions []*models.Permission
	if err = cursor.All(ctx, &permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return permissions, nil
}

// FindForNodes fetches every grant on any node of an ancestor chain in one
// query. Principal matching happens in the calculator, where the structure
// cascade rule lives.
func (r *PermissionRepository) FindForNodes(ctx context.Context, nodes []models.NodeRef) ([]*models.Permission, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	conditions := make([]bson.M, len(nodes))
	for i, node := range nodes {
		conditions[i] = bson.M{"nodeType": node.NodeType, "nodeId": node.NodeID}
	}

	cursor, err := r.collection.Find(ctx, bson.M{"$or": conditions})
	if err != nil {
		return nil, fmt.Errorf("failed to find permissions for chain: %w", err)
	}
	defer cursor.Close(ctx)

	var permissions []*models.Permission
	if err = cursor.All(ctx, &permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return permissions, nil
}
