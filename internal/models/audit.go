package models

import "go.mongodb.org/mongo-driver/v2/bson"

const (
	AuditActionGrant              = "Grant"
	AuditActionUpdate             = "Update"
	AuditActionRevoke             = "Revoke"
	AuditActionBreakInheritance   = "BreakInheritance"
	AuditActionRestoreInheritance = "RestoreInheritance"
	AuditActionDelegationCreated  = "DelegationCreated"
	AuditActionDelegationRevoked  = "DelegationRevoked"
)

// PermissionAuditLog is one append-only row per mutating operation on the
// permission store. Rows are never updated or deleted. Break and restore are
// modeled as actions on the node itself with an empty principal.
type PermissionAuditLog struct {
	ID            bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Action        string          `bson:"action" json:"action"`
	NodeType      NodeType        `bson:"nodeType" json:"nodeType"`
	NodeID        string          `bson:"nodeId" json:"nodeId"`
	PrincipalType PrincipalType   `bson:"principalType,omitempty" json:"principalType,omitempty"`
	PrincipalID   string          `bson:"principalId,omitempty" json:"principalId,omitempty"`
	OldLevel      PermissionLevel `bson:"oldLevel,omitempty" json:"oldLevel,omitempty"`
	NewLevel      PermissionLevel `bson:"newLevel,omitempty" json:"newLevel,omitempty"`
	Reason        string          `bson:"reason,omitempty" json:"reason,omitempty"`
	PerformedBy   string          `bson:"performedBy" json:"performedBy"`
	PerformedAt   int64           `bson:"performedAt" json:"performedAt"`
}
