package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"permission-service/internal/apperrors"
	"permission-service/internal/cache"
	"permission-service/internal/events"
	"permission-service/internal/hierarchy"
	"permission-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// In-memory implementations of the store and provider interfaces. They mirror
// the Mongo repositories' semantics, version guards included, so the services
// can be exercised without a database.

type fakePermissionStore struct {
	grants  map[bson.ObjectID]*models.Permission
	order   []bson.ObjectID
	failNew bool
}

func newFakePermissionStore() *fakePermissionStore {
	return &fakePermissionStore{grants: make(map[bson.ObjectID]*models.Permission)}
}

func (s *fakePermissionStore) New(_ context.Context, p *models.Permission) (*models.Permission, error) {
	if s.failNew {
		return nil, fmt.Errorf("insert failed")
	}
	now := time.Now().Unix()
	stored := *p
	if stored.ID.IsZero() {
		stored.ID = bson.NewObjectID()
	}
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.grants[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	result := stored
	return &result, nil
}

func (s *fakePermissionStore) FindByID(_ context.Context, id bson.ObjectID) (*models.Permission, error) {
	stored, ok := s.grants[id]
	if !ok {
		return nil, apperrors.NewNotFound("permission", id.Hex())
	}
	result := *stored
	return &result, nil
}

func (s *fakePermissionStore) UpdateMutable(_ context.Context, id bson.ObjectID, version int64, req *models.UpdatePermissionRequest) (*models.Permission, error) {
	stored, ok := s.grants[id]
	if !ok {
		return nil, apperrors.NewNotFound("permission", id.Hex())
	}
	if stored.Version != version {
		return nil, apperrors.NewConcurrency("permission", id.Hex())
	}
	stored.Level = req.Level
	stored.IncludeChildStructures = req.IncludeChildStructures
	stored.ExpiresAt = req.ExpiresAt
	stored.GrantedReason = req.GrantedReason
	stored.UpdatedAt = time.Now().Unix()
	stored.Version++
	result := *stored
	return &result, nil
}

func (s *fakePermissionStore) Delete(_ context.Context, id bson.ObjectID, version int64) error {
	stored, ok := s.grants[id]
	if !ok {
		return apperrors.NewNotFound("permission", id.Hex())
	}
	if stored.Version != version {
		return apperrors.NewConcurrency("permission", id.Hex())
	}
	delete(s.grants, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakePermissionStore) FindByNode(_ context.Context, node models.NodeRef) ([]*models.Permission, error) {
	var result []*models.Permission
	for _, id := range s.order {
		grant := s.grants[id]
		if grant.NodeType == node.NodeType && grant.NodeID == node.NodeID {
			copied := *grant
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *fakePermissionStore) FindForNodes(_ context.Context, nodes []models.NodeRef) ([]*models.Permission, error) {
	wanted := make(map[models.NodeRef]bool, len(nodes))
	for _, node := range nodes {
		wanted[node] = true
	}
	var result []*models.Permission
	for _, id := range s.order {
		grant := s.grants[id]
		if wanted[grant.Node()] {
			copied := *grant
			result = append(result, &copied)
		}
	}
	return result, nil
}

type fakeDelegationStore struct {
	delegations map[bson.ObjectID]*models.PermissionDelegation
	order       []bson.ObjectID
}

func newFakeDelegationStore() *fakeDelegationStore {
	return &fakeDelegationStore{delegations: make(map[bson.ObjectID]*models.PermissionDelegation)}
}

func (s *fakeDelegationStore) New(_ context.Context, d *models.PermissionDelegation) (*models.PermissionDelegation, error) {
	stored := *d
	stored.ID = bson.NewObjectID()
	stored.IsActive = true
	stored.CreatedAt = time.Now().Unix()
	s.delegations[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	result := stored
	return &result, nil
}

func (s *fakeDelegationStore) FindByID(_ context.Context, id bson.ObjectID) (*models.PermissionDelegation, error) {
	stored, ok := s.delegations[id]
	if !ok {
		return nil, apperrors.NewNotFound("delegation", id.Hex())
	}
	result := *stored
	return &result, nil
}

func (s *fakeDelegationStore) Deactivate(_ context.Context, id bson.ObjectID) error {
	stored, ok := s.delegations[id]
	if !ok {
		return apperrors.NewNotFound("delegation", id.Hex())
	}
	stored.IsActive = false
	return nil
}

func (s *fakeDelegationStore) Reactivate(_ context.Context, id bson.ObjectID) error {
	stored, ok := s.delegations[id]
	if !ok {
		return apperrors.NewNotFound("delegation", id.Hex())
	}
	stored.IsActive = true
	return nil
}

func (s *fakeDelegationStore) FindActiveForDelegate(_ context.Context, delegateID string, node models.NodeRef) ([]*models.PermissionDelegation, error) {
	now := time.Now().Unix()
	var result []*models.PermissionDelegation
	for _, id := range s.order {
		d := s.delegations[id]
		if d.DelegateID != delegateID || d.NodeType != node.NodeType || d.NodeID != node.NodeID {
			continue
		}
		if !d.ActiveAt(now) {
			continue
		}
		copied := *d
		result = append(result, &copied)
	}
	return result, nil
}

func (s *fakeDelegationStore) FindByDelegator(_ context.Context, delegatorID string) ([]*models.PermissionDelegation, error) {
	var result []*models.PermissionDelegation
	for _, id := range s.order {
		if d := s.delegations[id]; d.DelegatorID == delegatorID {
			copied := *d
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *fakeDelegationStore) FindByDelegate(_ context.Context, delegateID string) ([]*models.PermissionDelegation, error) {
	var result []*models.PermissionDelegation
	for _, id := range s.order {
		if d := s.delegations[id]; d.DelegateID == delegateID {
			copied := *d
			result = append(result, &copied)
		}
	}
	return result, nil
}

type fakeAuditStore struct {
	entries  []*models.PermissionAuditLog
	failNext bool
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{}
}

func (s *fakeAuditStore) Append(_ context.Context, entry *models.PermissionAuditLog) (*models.PermissionAuditLog, error) {
	if s.failNext {
		s.failNext = false
		return nil, fmt.Errorf("audit store unavailable")
	}
	stored := *entry
	stored.ID = bson.NewObjectID()
	stored.PerformedAt = time.Now().Unix()
	s.entries = append(s.entries, &stored)
	result := stored
	return &result, nil
}

func (s *fakeAuditStore) FindByNode(_ context.Context, node models.NodeRef, take int) ([]*models.PermissionAuditLog, error) {
	var result []*models.PermissionAuditLog
	for i := len(s.entries) - 1; i >= 0 && len(result) < take; i-- {
		entry := s.entries[i]
		if entry.NodeType == node.NodeType && entry.NodeID == node.NodeID {
			copied := *entry
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *fakeAuditStore) FindByPrincipal(_ context.Context, principal models.Principal, take int) ([]*models.PermissionAuditLog, error) {
	var result []*models.PermissionAuditLog
	for i := len(s.entries) - 1; i >= 0 && len(result) < take; i-- {
		entry := s.entries[i]
		if entry.PrincipalType == principal.PrincipalType && entry.PrincipalID == principal.PrincipalID {
			copied := *entry
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *fakeAuditStore) byAction(action string) []*models.PermissionAuditLog {
	var result []*models.PermissionAuditLog
	for _, entry := range s.entries {
		if entry.Action == action {
			result = append(result, entry)
		}
	}
	return result
}

type fakeNodeStore struct {
	parents map[models.NodeRef]*models.NodeRef
	broken  map[models.NodeRef]bool
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{
		parents: make(map[models.NodeRef]*models.NodeRef),
		broken:  make(map[models.NodeRef]bool),
	}
}

func (s *fakeNodeStore) addNode(node models.NodeRef, parent *models.NodeRef) {
	s.parents[node] = parent
}

func (s *fakeNodeStore) ParentOf(_ context.Context, node models.NodeRef) (*models.NodeRef, error) {
	return s.parents[node], nil
}

func (s *fakeNodeStore) BreakInheritanceFlag(_ context.Context, node models.NodeRef) (bool, error) {
	return s.broken[node], nil
}

func (s *fakeNodeStore) NodeExists(_ context.Context, node models.NodeRef) (bool, error) {
	_, ok := s.parents[node]
	return ok, nil
}

func (s *fakeNodeStore) SetBreakInheritance(_ context.Context, node models.NodeRef, broken bool) error {
	if node.NodeType == models.NodeTypeDocument {
		return apperrors.NewValidation("nodeType", "documents do not carry a break-inheritance flag")
	}
	if _, ok := s.parents[node]; !ok {
		return apperrors.NewNotFound(string(node.NodeType), node.NodeID)
	}
	s.broken[node] = broken
	return nil
}

type fakeIdentity struct {
	roles      map[string][]string
	structures map[string][]string
	ancestors  map[string][]string
	admins     map[string]bool
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		roles:      make(map[string][]string),
		structures: make(map[string][]string),
		ancestors:  make(map[string][]string),
		admins:     make(map[string]bool),
	}
}

func (f *fakeIdentity) RolesOf(_ context.Context, userID string) ([]string, error) {
	return f.roles[userID], nil
}

func (f *fakeIdentity) StructuresOf(_ context.Context, userID string) ([]string, error) {
	return f.structures[userID], nil
}

func (f *fakeIdentity) AncestorStructures(_ context.Context, structureID string) ([]string, error) {
	return f.ancestors[structureID], nil
}

func (f *fakeIdentity) IsAdministrator(_ context.Context, userID string) (bool, error) {
	return f.admins[userID], nil
}

type capturePublisher struct {
	published []*events.PermissionEvent
}

func (p *capturePublisher) PublishPermissionEvent(event *events.PermissionEvent) error {
	p.published = append(p.published, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// testEnv wires every service over the in-memory fakes around one tree:
// cabinet-1 <- folder-1 <- doc-1.
type testEnv struct {
	permissions *fakePermissionStore
	delegations *fakeDelegationStore
	audit       *fakeAuditStore
	nodes       *fakeNodeStore
	identity    *fakeIdentity
	cache       *cache.MemoryCache
	publisher   *capturePublisher

	effective   *EffectivePermissionService
	grants      *PermissionService
	inheritance *InheritanceService
	delegation  *DelegationService

	cabinet models.NodeRef
	folder  models.NodeRef
	doc     models.NodeRef
}

func newTestEnv() *testEnv {
	env := &testEnv{
		permissions: newFakePermissionStore(),
		delegations: newFakeDelegationStore(),
		audit:       newFakeAuditStore(),
		nodes:       newFakeNodeStore(),
		identity:    newFakeIdentity(),
		cache:       cache.NewMemoryCache(),
		publisher:   &capturePublisher{},
	}

	env.cabinet = models.NodeRef{NodeType: models.NodeTypeCabinet, NodeID: "cabinet-1"}
	env.folder = models.NodeRef{NodeType: models.NodeTypeFolder, NodeID: "folder-1"}
	env.doc = models.NodeRef{NodeType: models.NodeTypeDocument, NodeID: "doc-1"}
	env.nodes.addNode(env.cabinet, nil)
	env.nodes.addNode(env.folder, &env.cabinet)
	env.nodes.addNode(env.doc, &env.folder)

	resolver := hierarchy.NewResolver(env.nodes, 32)
	env.effective = NewEffectivePermissionService(env.permissions, env.delegations, resolver, env.identity, env.cache)
	env.grants = NewPermissionService(env.permissions, env.audit, env.cache, env.nodes, env.publisher)
	env.inheritance = NewInheritanceService(env.permissions, env.audit, env.cache, env.nodes, resolver, env.publisher)
	env.delegation = NewDelegationService(env.delegations, env.effective, env.audit, env.cache, env.nodes, env.identity, env.publisher)
	return env
}

// seedGrant inserts a grant directly into the store, bypassing the service.
func (env *testEnv) seedGrant(t *testing.T, node models.NodeRef, principalType models.PrincipalType, principalID string, level models.PermissionLevel, opts ...func(*models.Permission)) *models.Permission {
	t.Helper()
	grant := &models.Permission{
		NodeType:      node.NodeType,
		NodeID:        node.NodeID,
		PrincipalType: principalType,
		PrincipalID:   principalID,
		Level:         level,
		GrantedBy:     "seed",
	}
	for _, opt := range opts {
		opt(grant)
	}
	created, err := env.permissions.New(context.Background(), grant)
	if err != nil {
		t.Fatalf("seed grant: %v", err)
	}
	return created
}

func (env *testEnv) resolve(t *testing.T, userID string, node models.NodeRef) models.PermissionLevel {
	t.Helper()
	level, err := env.effective.Resolve(context.Background(), userID, node)
	if err != nil {
		t.Fatalf("Resolve(%s, %v): %v", userID, node, err)
	}
	return level
}
