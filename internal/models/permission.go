package models

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PermissionLevel is a bit-flag set, not a rank. Levels compose by bitwise
// union across sources; a requested level is satisfied when every requested
// bit is present.
type PermissionLevel int64

const (
	LevelRead   PermissionLevel = 1
	LevelWrite  PermissionLevel = 2
	LevelDelete PermissionLevel = 4
	LevelAdmin  PermissionLevel = 8

	LevelNone PermissionLevel = 0
	LevelFull PermissionLevel = LevelRead | LevelWrite | LevelDelete | LevelAdmin
)

// Covers reports whether every bit of required is present in l.
func (l PermissionLevel) Covers(required PermissionLevel) bool {
	return l&required == required
}

func (l PermissionLevel) Has(flag PermissionLevel) bool {
	return l&flag != 0
}

// Valid reports whether l is a non-zero subset of the known flags.
// Combinations like Write-without-Read are legal input.
func (l PermissionLevel) Valid() bool {
	return l != LevelNone && l&^LevelFull == 0
}

func (l PermissionLevel) Names() []string {
	var names []string
	if l.Has(LevelRead) {
		names = append(names, "read")
	}
	if l.Has(LevelWrite) {
		names = append(names, "write")
	}
	if l.Has(LevelDelete) {
		names = append(names, "delete")
	}
	if l.Has(LevelAdmin) {
		names = append(names, "admin")
	}
	return names
}

func (l PermissionLevel) String() string {
	if l == LevelNone {
		return "none"
	}
	return strings.Join(l.Names(), "|")
}

type NodeType string

const (
	NodeTypeCabinet  NodeType = "cabinet"
	NodeTypeFolder   NodeType = "folder"
	NodeTypeDocument NodeType = "document"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeCabinet, NodeTypeFolder, NodeTypeDocument:
		return true
	}
	return false
}

type PrincipalType string

const (
	PrincipalTypeUser      PrincipalType = "user"
	PrincipalTypeRole      PrincipalType = "role"
	PrincipalTypeStructure PrincipalType = "structure"
)

func (t PrincipalType) Valid() bool {
	switch t {
	case PrincipalTypeUser, PrincipalTypeRole, PrincipalTypeStructure:
		return true
	}
	return false
}

// NodeRef identifies a cabinet, folder or document in the containment
// hierarchy owned by the node services.
type NodeRef struct {
	NodeType NodeType `bson:"nodeType" json:"nodeType"`
	NodeID   string   `bson:"nodeId" json:"nodeId"`
}

// Principal identifies an identity a permission can be granted to.
type Principal struct {
	PrincipalType PrincipalType `bson:"principalType" json:"principalType"`
	PrincipalID   string        `bson:"principalId" json:"principalId"`
}

// Permission is a direct grant of a level to one principal on one node.
// Node and principal are immutable after creation; only Level, ExpiresAt,
// IncludeChildStructures and GrantedReason may change afterwards.
type Permission struct {
	ID                     bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	NodeType               NodeType        `bson:"nodeType" json:"nodeType"`
	NodeID                 string          `bson:"nodeId" json:"nodeId"`
	PrincipalType          PrincipalType   `bson:"principalType" json:"principalType"`
	PrincipalID            string          `bson:"principalId" json:"principalId"`
	Level                  PermissionLevel `bson:"level" json:"level"`
	IncludeChildStructures bool            `bson:"includeChildStructures" json:"includeChildStructures"`
	ExpiresAt              int64           `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	GrantedReason          string          `bson:"grantedReason,omitempty" json:"grantedReason,omitempty"`
	GrantedBy              string          `bson:"grantedBy" json:"grantedBy"`
	CreatedAt              int64           `bson:"createdAt" json:"createdAt"`
	UpdatedAt              int64           `bson:"updatedAt" json:"updatedAt"`
	Version                int64           `bson:"version" json:"-"`
}

// Expired reports whether the grant no longer contributes bits at the given
// Unix time. Expired grants stay listed on the node until revoked.
func (p *Permission) Expired(now int64) bool {
	return p.ExpiresAt != 0 && p.ExpiresAt <= now
}

func (p *Permission) Node() NodeRef {
	return NodeRef{NodeType: p.NodeType, NodeID: p.NodeID}
}

func (p *Permission) Principal() Principal {
	return Principal{PrincipalType: p.PrincipalType, PrincipalID: p.PrincipalID}
}

// EffectivePermission is the cached resolution for one (user, node) pair.
// It is derived, disposable state; the permission collection always wins.
type EffectivePermission struct {
	NodeType   NodeType        `json:"nodeType"`
	NodeID     string          `json:"nodeId"`
	UserID     string          `json:"userId"`
	Level      PermissionLevel `json:"level"`
	ComputedAt int64           `json:"computedAt"`
}

type PermissionSource string

const (
	SourceDirect        PermissionSource = "direct"
	SourceInherited     PermissionSource = "inherited"
	SourceRole          PermissionSource = "role"
	SourceStructure     PermissionSource = "structure"
	SourceDelegation    PermissionSource = "delegation"
	SourceAdministrator PermissionSource = "administrator"
)

// SourceContribution records which grant or delegation contributed which bits
// to a resolved level. Diagnostic output only; the access decision is the
// plain union of all contributions.
type SourceContribution struct {
	Source        PermissionSource `json:"source"`
	NodeType      NodeType         `json:"nodeType"`
	NodeID        string           `json:"nodeId"`
	PrincipalType PrincipalType    `json:"principalType,omitempty"`
	PrincipalID   string           `json:"principalId,omitempty"`
	Level         PermissionLevel  `json:"level"`
	RecordID      string           `json:"recordId,omitempty"`
}

type EffectivePermissionDetail struct {
	NodeType   NodeType             `json:"nodeType"`
	NodeID     string               `json:"nodeId"`
	UserID     string               `json:"userId"`
	Level      PermissionLevel      `json:"level"`
	LevelNames []string             `json:"levelNames"`
	Sources    []SourceContribution `json:"sources"`
	ComputedAt int64                `json:"computedAt"`
}
