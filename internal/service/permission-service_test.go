package service

import (
	"context"
	"testing"
	"time"

	"permission-service/internal/apperrors"
	"permission-service/internal/models"
)

func TestGrant_PersistsAuditsAndInvalidates(t *testing.T) {
	env := newTestEnv()
	env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead)
	env.resolve(t, "alice", env.doc) // warm the cache

	req := &models.GrantPermissionRequest{
		NodeType:      env.doc.NodeType,
		NodeID:        env.doc.NodeID,
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   "alice",
		Level:         models.LevelWrite,
		GrantedReason: "project onboarding",
	}
	created, err := env.grants.Grant(context.Background(), req, "admin-user")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}

	if created.ID.IsZero() {
		t.Error("created grant has no id")
	}
	if created.Version != 1 {
		t.Errorf("created version = %d, want 1", created.Version)
	}
	if created.GrantedBy != "admin-user" {
		t.Errorf("grantedBy = %q, want admin-user", created.GrantedBy)
	}

	rows := env.audit.byAction(models.AuditActionGrant)
	if len(rows) != 1 {
		t.Fatalf("grant audit rows = %d, want 1", len(rows))
	}
	if rows[0].NewLevel != models.LevelWrite || rows[0].PrincipalID != "alice" {
		t.Errorf("audit row = %+v, want newLevel write for alice", rows[0])
	}

	// The cache for the node was invalidated, so the new bits show up.
	if level := env.resolve(t, "alice", env.doc); level != models.LevelRead|models.LevelWrite {
		t.Errorf("level after grant = %v, want read|write", level)
	}

	if len(env.publisher.published) != 1 {
		t.Errorf("published events = %d, want 1", len(env.publisher.published))
	}
}

func TestGrant_UnknownNode(t *testing.T) {
	env := newTestEnv()
	req := &models.GrantPermissionRequest{
		NodeType:      models.NodeTypeFolder,
		NodeID:        "ghost",
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   "alice",
		Level:         models.LevelRead,
	}
	_, err := env.grants.Grant(context.Background(), req, "admin-user")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("Grant on missing node: err = %v, want NotFoundError", err)
	}
	if len(env.audit.entries) != 0 {
		t.Errorf("audit rows = %d, want none for a failed grant", len(env.audit.entries))
	}
}

func TestGrant_InvalidRequest(t *testing.T) {
	env := newTestEnv()
	req := &models.GrantPermissionRequest{
		NodeType:      env.doc.NodeType,
		NodeID:        env.doc.NodeID,
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   "alice",
		Level:         models.LevelNone,
	}
	_, err := env.grants.Grant(context.Background(), req, "admin-user")
	if !apperrors.IsValidation(err) {
		t.Fatalf("Grant with zero level: err = %v, want ValidationError", err)
	}
}

func TestGrant_AuditFailureRollsBack(t *testing.T) {
	env := newTestEnv()
	env.audit.failNext = true

	req := &models.GrantPermissionRequest{
		NodeType:      env.doc.NodeType,
		NodeID:        env.doc.NodeID,
		PrincipalType: models.PrincipalTypeUser,
		PrincipalID:   "alice",
		Level:         models.LevelRead,
	}
	if _, err := env.grants.Grant(context.Background(), req, "admin-user"); err == nil {
		t.Fatal("Grant should fail when the audit append fails")
	}

	grants, err := env.permissions.FindByNode(context.Background(), env.doc)
	if err != nil {
		t.Fatalf("FindByNode: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("grants on node = %d, want 0 after rollback", len(grants))
	}
}

func TestUpdate_ChangesMutableFieldsAndBumpsVersion(t *testing.T) {
	env := newTestEnv()
	created := env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead)
	env.resolve(t, "alice", env.doc)

	future := time.Now().Unix() + 3600
	req := &models.UpdatePermissionRequest{
		Level:         models.LevelRead | models.LevelDelete,
		ExpiresAt:     future,
		GrantedReason: "scope widened",
	}
	updated, err := env.grants.Update(context.Background(), created.ID, req, "admin-user")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if updated.Level != models.LevelRead|models.LevelDelete {
		t.Errorf("level = %v, want read|delete", updated.Level)
	}
	if updated.Version != created.Version+1 {
		t.Errorf("version = %d, want %d", updated.Version, created.Version+1)
	}
	if updated.ExpiresAt != future {
		t.Errorf("expiresAt = %d, want %d", updated.ExpiresAt, future)
	}

	rows := env.audit.byAction(models.AuditActionUpdate)
	if len(rows) != 1 {
		t.Fatalf("update audit rows = %d, want 1", len(rows))
	}
	if rows[0].OldLevel != models.LevelRead || rows[0].NewLevel != models.LevelRead|models.LevelDelete {
		t.Errorf("audit row levels = old %v new %v", rows[0].OldLevel, rows[0].NewLevel)
	}

	if level := env.resolve(t, "alice", env.doc); level != models.LevelRead|models.LevelDelete {
		t.Errorf("level after update = %v, want read|delete", level)
	}
}

func TestUpdate_CascadeFlagOnNonStructurePrincipal(t *testing.T) {
	env := newTestEnv()
	created := env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead)

	req := &models.UpdatePermissionRequest{
		Level:                  models.LevelRead,
		IncludeChildStructures: true,
	}
	_, err := env.grants.Update(context.Background(), created.ID, req, "admin-user")
	if !apperrors.IsValidation(err) {
		t.Fatalf("Update with cascade on user grant: err = %v, want ValidationError", err)
	}
}

func TestUpdate_LostUpdateIsAConflict(t *testing.T) {
	env := newTestEnv()
	created := env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead)

	// Another writer bumps the version between read and write.
	stored := env.permissions.grants[created.ID]
	stored.Version++

	req := &models.UpdatePermissionRequest{Level: models.LevelWrite}
	_, err := env.permissions.UpdateMutable(context.Background(), created.ID, created.Version, req)
	if !apperrors.IsConcurrency(err) {
		t.Fatalf("stale update: err = %v, want ConcurrencyError", err)
	}
}

func TestUpdate_AuditFailureRevertsFields(t *testing.T) {
	env := newTestEnv()
	created := env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead, func(p *models.Permission) {
		p.GrantedReason = "initial scope"
	})
	env.audit.failNext = true

	req := &models.UpdatePermissionRequest{
		Level:         models.LevelRead | models.LevelWrite,
		GrantedReason: "scope widened",
	}
	if _, err := env.grants.Update(context.Background(), created.ID, req, "admin-user"); err == nil {
		t.Fatal("Update should fail when the audit append fails")
	}

	stored, err := env.permissions.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Level != models.LevelRead {
		t.Errorf("level after reverted update = %v, want read", stored.Level)
	}
	if stored.GrantedReason != "initial scope" {
		t.Errorf("grantedReason = %q, want the original reason", stored.GrantedReason)
	}
	if rows := env.audit.byAction(models.AuditActionUpdate); len(rows) != 0 {
		t.Errorf("update audit rows = %d, want none", len(rows))
	}
}

func TestRevoke_RemovesGrantAndAudits(t *testing.T) {
	env := newTestEnv()
	created := env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead)
	env.resolve(t, "alice", env.doc)

	if err := env.grants.Revoke(context.Background(), created.ID, "admin-user"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := env.permissions.FindByID(context.Background(), created.ID); !apperrors.IsNotFound(err) {
		t.Errorf("revoked grant still resolvable, err = %v", err)
	}

	rows := env.audit.byAction(models.AuditActionRevoke)
	if len(rows) != 1 {
		t.Fatalf("revoke audit rows = %d, want 1", len(rows))
	}
	if rows[0].OldLevel != models.LevelRead {
		t.Errorf("audit oldLevel = %v, want read", rows[0].OldLevel)
	}

	if level := env.resolve(t, "alice", env.doc); level != models.LevelNone {
		t.Errorf("level after revoke = %v, want none", level)
	}
}

func TestRevoke_AuditFailureRestoresGrant(t *testing.T) {
	env := newTestEnv()
	created := env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead)
	env.audit.failNext = true

	if err := env.grants.Revoke(context.Background(), created.ID, "admin-user"); err == nil {
		t.Fatal("Revoke should fail when the audit append fails")
	}

	stored, err := env.permissions.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("grant missing after failed revoke: %v", err)
	}
	if stored.Level != models.LevelRead || stored.Version != created.Version {
		t.Errorf("restored grant = level %v version %d, want read version %d", stored.Level, stored.Version, created.Version)
	}
	if rows := env.audit.byAction(models.AuditActionRevoke); len(rows) != 0 {
		t.Errorf("revoke audit rows = %d, want none", len(rows))
	}

	if level := env.resolve(t, "alice", env.doc); level != models.LevelRead {
		t.Errorf("level after failed revoke = %v, want read", level)
	}
}

func TestRevoke_DescendantCacheRecomputesLazily(t *testing.T) {
	env := newTestEnv()
	created := env.seedGrant(t, env.folder, models.PrincipalTypeUser, "alice", models.LevelRead)

	// Warm both the folder's and the document's cache entries.
	env.resolve(t, "alice", env.folder)
	env.resolve(t, "alice", env.doc)

	if err := env.grants.Revoke(context.Background(), created.ID, "admin-user"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// Only the mutated node is invalidated eagerly; the descendant entry
	// stays until its TTL or an explicit invalidation.
	if level := env.resolve(t, "alice", env.folder); level != models.LevelNone {
		t.Errorf("folder level = %v, want none", level)
	}
	if level := env.resolve(t, "alice", env.doc); level != models.LevelRead {
		t.Errorf("document level = %v, want stale read", level)
	}

	if err := env.effective.InvalidateNodeCache(context.Background(), env.doc); err != nil {
		t.Fatalf("InvalidateNodeCache: %v", err)
	}
	if level := env.resolve(t, "alice", env.doc); level != models.LevelNone {
		t.Errorf("document level after invalidation = %v, want none", level)
	}
}

func TestMatrixForNode_GroupsByPrincipalType(t *testing.T) {
	env := newTestEnv()
	env.seedGrant(t, env.folder, models.PrincipalTypeUser, "alice", models.LevelRead|models.LevelWrite)
	env.seedGrant(t, env.folder, models.PrincipalTypeRole, "editor", models.LevelWrite)
	env.seedGrant(t, env.folder, models.PrincipalTypeStructure, "dept-a", models.LevelRead, func(p *models.Permission) {
		p.IncludeChildStructures = true
	})

	matrix, err := env.grants.MatrixForNode(context.Background(), env.folder)
	if err != nil {
		t.Fatalf("MatrixForNode: %v", err)
	}

	if len(matrix.Users) != 1 || matrix.Users[0].PrincipalID != "alice" {
		t.Errorf("users = %+v, want one row for alice", matrix.Users)
	}
	if len(matrix.Roles) != 1 || matrix.Roles[0].PrincipalID != "editor" {
		t.Errorf("roles = %+v, want one row for editor", matrix.Roles)
	}
	if len(matrix.Orgs) != 1 || !matrix.Orgs[0].IncludeChildStructures {
		t.Errorf("structures = %+v, want one cascading row for dept-a", matrix.Orgs)
	}
}

func TestAuditService_ClampsPageSize(t *testing.T) {
	env := newTestEnv()
	auditService := NewAuditService(env.audit, 2)

	for i := 0; i < 5; i++ {
		env.seedGrant(t, env.doc, models.PrincipalTypeUser, "alice", models.LevelRead)
		entry := &models.PermissionAuditLog{
			Action:        models.AuditActionGrant,
			NodeType:      env.doc.NodeType,
			NodeID:        env.doc.NodeID,
			PrincipalType: models.PrincipalTypeUser,
			PrincipalID:   "alice",
			PerformedBy:   "seed",
		}
		if _, err := env.audit.Append(context.Background(), entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := auditService.ForNode(context.Background(), env.doc, 0)
	if err != nil {
		t.Fatalf("ForNode: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("default page = %d entries, want 2", len(entries))
	}

	entries, err = auditService.ForNode(context.Background(), env.doc, 3)
	if err != nil {
		t.Fatalf("ForNode: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("explicit take = %d entries, want 3", len(entries))
	}

	entries, err = auditService.ForNode(context.Background(), env.doc, 10_000)
	if err != nil {
		t.Fatalf("ForNode: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("oversized take = %d entries, want clamped 2", len(entries))
	}
}
