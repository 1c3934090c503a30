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

type DelegationRepository struct {
	collection *mongo.Collection
}

func NewDelegationRepository(db *mongo.Database) *DelegationRepository {
	return &DelegationRepository{
		collection: db.Collection("permissionDelegations"),
	}
}

func (r *DelegationRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "delegateId", Value: 1}, {Key: "nodeType", Value: 1}, {Key: "nodeId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "delegatorId", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create delegation indexes: %w", err)
	}
	return nil
}

func (r *DelegationRepository) New(ctx context.Context, d *models.PermissionDelegation) (*models.PermissionDelegation, error) {
	if d.ID.IsZero() {
		d.ID = bson.NewObjectID()
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().Unix()
	}
	d.IsActive = true

	_, err := r.collection.InsertOne(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to insert delegation: %w", err)
	}
	return d, nil
}

func (r *DelegationRepository) FindByID(ctx context.Context, id bson.ObjectID) (*models.PermissionDelegation, error) {
	var delegation models.PermissionDelegation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&delegation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NewNotFound("delegation", id.Hex())
		}
		return nil, fmt.Errorf("failed to load delegation: %w", err)
	}
	return &delegation, nil
}

// Deactivate revokes the delegation. The row is retained for the audit trail.
func (r *DelegationRepository) Deactivate(ctx context.Context, id bson.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"isActive": false}})
	if err != nil {
		return fmt.Errorf("failed to deactivate delegation: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NewNotFound("delegation", id.Hex())
	}
	return nil
}

// Reactivate undoes a deactivation whose audit write failed.
func (r *DelegationRepository) Reactivate(ctx context.Context, id bson.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"isActive": true}})
	if err != nil {
		return fmt.Errorf("failed to reactivate delegation: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NewNotFound("delegation", id.Hex())
	}
	return nil
}

// FindActiveForDelegate returns the delegations contributing to a delegate's
// level on one exact node right now. Delegations never travel the chain.
func (r *DelegationRepository) FindActiveForDelegate(ctx context.Context, delegateID string, node models.NodeRef) ([]*models.PermissionDelegation, error) {
	currentTime := time.Now().Unix()
	filter := bson.M{
		"delegateId": delegateID,
		"nodeType":   node.NodeType,
		"nodeId":     node.NodeID,
		"isActive":   true,
		"startDate":  bson.M{"$lte": currentTime},
		"endDate":    bson.M{"$gt": currentTime},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find active delegations: %w", err)
	}
	defer cursor.Close(ctx)

	var delegations []*models.PermissionDelegation
	if err = cursor.All(ctx, &delegations); err != nil {
		return nil, fmt.Errorf("failed to decode delegations: %w", err)
	}
	return delegations, nil
}

func (r *DelegationRepository) FindByDelegator(ctx context.Context, delegatorID string) ([]*models.PermissionDelegation, error) {
	return r.findSwept(ctx, bson.M{"delegatorId": delegatorID})
}

func (r *DelegationRepository) FindByDelegate(ctx context.Context, delegateID string) ([]*models.PermissionDelegation, error) {
	return r.findSwept(ctx, bson.M{"delegateId": delegateID})
}

// findSwept deactivates past-EndDate rows before listing, the same sweep the
// identity service runs on expired role assignments.
func (r *DelegationRepository) findSwept(ctx context.Context, filter bson.M) ([]*models.PermissionDelegation, error) {
	currentTime := time.Now().Unix()
	expiredFilter := bson.M{"isActive": true, "endDate": bson.M{"$lte": currentTime}}
	for key, value := range filter {
		expiredFilter[key] = value
	}

	if _, err := r.collection.UpdateMany(ctx, expiredFilter, bson.M{"$set": bson.M{"isActive": false}}); err != nil {
		return nil, fmt.Errorf("error deactivating expired delegations: %w", err)
	}

	opts := options.Find()
	opts.SetSort(bson.M{"createdAt": -1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find delegations: %w", err)
	}
	defer cursor.Close(ctx)

	var delegations []*models.PermissionDelegation
	if err = cursor.All(ctx, &delegations); err != nil {
		return nil, fmt.Errorf("failed to decode delegations: %w", err)
	}
	return delegations, nil
}
