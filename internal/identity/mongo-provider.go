package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoProvider reads the membership collections maintained by the identity
// services. Expired role assignments are deactivated on read, the same sweep
// the identity service itself performs.
type MongoProvider struct {
	userRoles      *mongo.Collection
	userStructures *mongo.Collection
	structures     *mongo.Collection
	roles          *mongo.Collection
	adminRoleName  string
	maxDepth       int
}

func NewMongoProvider(db *mongo.Database, adminRoleName string, maxDepth int) *MongoProvider {
	if maxDepth <= 0 {
		maxDepth = 32
	}
	return &MongoProvider{
		userRoles:      db.Collection("userRoles"),
		userStructures: db.Collection("userStructures"),
		structures:     db.Collection("structures"),
		roles:          db.Collection("roles"),
		adminRoleName:  adminRoleName,
		maxDepth:       maxDepth,
	}
}

type userRoleDoc struct {
	RoleID string `bson:"roleId"`
}

type userStructureDoc struct {
	StructureID string `bson:"structureId"`
}

type structureDoc struct {
	ParentID string `bson:"parentId,omitempty"`
}

type roleDoc struct {
	ID bson.ObjectID `bson:"_id"`
}

func (p *MongoProvider) RolesOf(ctx context.Context, userID string) ([]string, error) {
	currentTime := time.Now().Unix()
	expiredFilter := bson.M{
		"userId":    userID,
		"isActive":  true,
		"expiresAt": bson.M{"$lt": currentTime, "$ne": 0},
	}
	update := bson.M{"$set": bson.M{"isActive": false}}
	if _, err := p.userRoles.UpdateMany(ctx, expiredFilter, update); err != nil {
		return nil, fmt.Errorf("error deactivating expired roles: %w", err)
	}

	cursor, err := p.userRoles.Find(ctx, bson.M{"userId": userID, "isActive": true})
	if err != nil {
		return nil, fmt.Errorf("failed to find user roles: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userRoleDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode user roles: %w", err)
	}

	roleIDs := make([]string, len(docs))
	for i, doc := range docs {
		roleIDs[i] = doc.RoleID
	}
	return roleIDs, nil
}

func (p *MongoProvider) StructuresOf(ctx context.Context, userID string) ([]string, error) {
	cursor, err := p.userStructures.Find(ctx, bson.M{"userId": userID, "isActive": true})
	if err != nil {
		return nil, fmt.Errorf("failed to find user structures: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userStructureDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode user structures: %w", err)
	}

	structureIDs := make([]string, len(docs))
	for i, doc := range docs {
		structureIDs[i] = doc.StructureID
	}
	return structureIDs, nil
}

func (p *MongoProvider) AncestorStructures(ctx context.Context, structureID string) ([]string, error) {
	var ancestors []string
	current := structureID

	for depth := 0; depth < p.maxDepth; depth++ {
		id, err := bson.ObjectIDFromHex(current)
		if err != nil {
			return ancestors, nil
		}

		var structure structureDoc
		findErr := p.structures.FindOne(ctx, bson.M{"_id": id}).Decode(&structure)
		if findErr != nil {
			if errors.Is(findErr, mongo.ErrNoDocuments) {
				return ancestors, nil
			}
			return nil, fmt.Errorf("failed to load structure %s: %w", current, findErr)
		}
		if structure.ParentID == "" {
			return ancestors, nil
		}

		ancestors = append(ancestors, structure.ParentID)
		current = structure.ParentID
	}

	return nil, fmt.Errorf("structure hierarchy of %s exceeds maximum depth", structureID)
}

func (p *MongoProvider) IsAdministrator(ctx context.Context, userID string) (bool, error) {
	var role roleDoc
	err := p.roles.FindOne(ctx, bson.M{"name": p.adminRoleName}).Decode(&role)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load administrator role: %w", err)
	}

	count, err := p.userRoles.CountDocuments(ctx, bson.M{
		"userId":   userID,
		"roleId":   role.ID.Hex(),
		"isActive": true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check administrator membership: %w", err)
	}
	return count > 0, nil
}
