package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"permission-service/internal/apperrors"
	"permission-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoNodeStore reads the node collections owned by the cabinet/folder/
// document services. Everything is read-only here except the
// breakInheritance flag, which the permission engine owns semantically.
type MongoNodeStore struct {
	cabinets  *mongo.Collection
	folders   *mongo.Collection
	documents *mongo.Collection
}

func NewMongoNodeStore(db *mongo.Database) *MongoNodeStore {
	return &MongoNodeStore{
		cabinets:  db.Collection("cabinets"),
		folders:   db.Collection("folders"),
		documents: db.Collection("documents"),
	}
}

type folderDoc struct {
	ParentType       models.NodeType `bson:"parentType"`
	ParentID         bson.ObjectID   `bson:"parentId"`
	BreakInheritance bool            `bson:"breakInheritance"`
}

type documentDoc struct {
	FolderID bson.ObjectID `bson:"folderId"`
}

type cabinetDoc struct {
	BreakInheritance bool `bson:"breakInheritance"`
}

func (s *MongoNodeStore) collection(nodeType models.NodeType) *mongo.Collection {
	switch nodeType {
	case models.NodeTypeCabinet:
		return s.cabinets
	case models.NodeTypeFolder:
		return s.folders
	default:
		return s.documents
	}
}

func nodeFilter(node models.NodeRef) (bson.M, error) {
	id, err := bson.ObjectIDFromHex(node.NodeID)
	if err != nil {
		return nil, apperrors.NewNotFound(string(node.NodeType), node.NodeID)
	}
	return bson.M{"_id": id}, nil
}

func (s *MongoNodeStore) ParentOf(ctx context.Context, node models.NodeRef) (*models.NodeRef, error) {
	filter, err := nodeFilter(node)
	if err != nil {
		return nil, err
	}

	switch node.NodeType {
	case models.NodeTypeCabinet:
		return nil, nil

	case models.NodeTypeFolder:
		var folder folderDoc
		err := s.folders.FindOne(ctx, filter).Decode(&folder)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, apperrors.NewNotFound("folder", node.NodeID)
			}
			return nil, fmt.Errorf("failed to load folder: %w", err)
		}
		if folder.ParentID.IsZero() {
			return nil, nil
		}
		parentType := folder.ParentType
		if parentType != models.NodeTypeFolder {
			parentType = models.NodeTypeCabinet
		}
		return &models.NodeRef{NodeType: parentType, NodeID: folder.ParentID.Hex()}, nil

	case models.NodeTypeDocument:
		var doc documentDoc
		err := s.documents.FindOne(ctx, filter).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, apperrors.NewNotFound("document", node.NodeID)
			}
			return nil, fmt.Errorf("failed to load document: %w", err)
		}
		return &models.NodeRef{NodeType: models.NodeTypeFolder, NodeID: doc.FolderID.Hex()}, nil
	}

	return nil, apperrors.NewValidation("nodeType", "unknown node type")
}

func (s *MongoNodeStore) BreakInheritanceFlag(ctx context.Context, node models.NodeRef) (bool, error) {
	// Documents never carry the flag; nothing nests below them.
	if node.NodeType == models.NodeTypeDocument {
		return false, nil
	}

	filter, err := nodeFilter(node)
	if err != nil {
		return false, err
	}

	var result cabinetDoc
	findErr := s.collection(node.NodeType).FindOne(ctx, filter).Decode(&result)
	if findErr != nil {
		if errors.Is(findErr, mongo.ErrNoDocuments) {
			return false, apperrors.NewNotFound(string(node.NodeType), node.NodeID)
		}
		return false, fmt.Errorf("failed to load %s: %w", node.NodeType, findErr)
	}
	return result.BreakInheritance, nil
}

func (s *MongoNodeStore) NodeExists(ctx context.Context, node models.NodeRef) (bool, error) {
	filter, err := nodeFilter(node)
	if err != nil {
		return false, nil
	}

	count, countErr := s.collection(node.NodeType).CountDocuments(ctx, filter)
	if countErr != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", node.NodeType, countErr)
	}
	return count > 0, nil
}

func (s *MongoNodeStore) SetBreakInheritance(ctx context.Context, node models.NodeRef, broken bool) error {
	if node.NodeType == models.NodeTypeDocument {
		return apperrors.NewValidation("nodeType", "documents do not carry a break-inheritance flag")
	}

	filter, err := nodeFilter(node)
	if err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{"breakInheritance": broken}}
	result, updateErr := s.collection(node.NodeType).UpdateOne(ctx, filter, update)
	if updateErr != nil {
		return fmt.Errorf("failed to set break flag on %s: %w", node.NodeType, updateErr)
	}
	if result.MatchedCount == 0 {
		return apperrors.NewNotFound(string(node.NodeType), node.NodeID)
	}
	return nil
}
