package events

import "permission-service/internal/models"

const (
	EventTypePermissionGranted  = "permission.granted"
	EventTypePermissionUpdated  = "permission.updated"
	EventTypePermissionRevoked  = "permission.revoked"
	EventTypeInheritanceBroken  = "permission.inheritance.broken"
	EventTypeInheritanceRestore = "permission.inheritance.restored"
	EventTypeDelegationCreated  = "permission.delegation.created"
	EventTypeDelegationRevoked  = "permission.delegation.revoked"
)

// PermissionEvent is published on every mutation so sibling services
// (retention, search, activity) can react to access changes.
type PermissionEvent struct {
	EventType     string                 `json:"eventType"`
	NodeType      models.NodeType        `json:"nodeType"`
	NodeID        string                 `json:"nodeId"`
	PrincipalType models.PrincipalType   `json:"principalType,omitempty"`
	PrincipalID   string                 `json:"principalId,omitempty"`
	OldLevel      models.PermissionLevel `json:"oldLevel,omitempty"`
	NewLevel      models.PermissionLevel `json:"newLevel,omitempty"`
	PerformedBy   string                 `json:"performedBy"`
	Timestamp     int64                  `json:"timestamp"`
}

// Membership-change events consumed from the identity services. Each one
// makes cached effective permissions stale for the affected users, so the
// consumer clears their cache entries.
const (
	EventTypeUserRoleChanged      = "user.role.changed"
	EventTypeUserStructureChanged = "user.structure.changed"
	EventTypeStructureMoved       = "structure.moved"
)

type MembershipEvent struct {
	EventType   string   `json:"eventType"`
	UserID      string   `json:"userId,omitempty"`
	StructureID string   `json:"structureId,omitempty"`
	UserIDs     []string `json:"userIds,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}
