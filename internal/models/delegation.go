package models

import "go.mongodb.org/mongo-driver/v2/bson"

// PermissionDelegation is a time-boxed grant of a level from one user to
// another on a single node. Delegations do not travel the inheritance chain;
// they apply to the named node only.
type PermissionDelegation struct {
	ID          bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	DelegatorID string          `bson:"delegatorId" json:"delegatorId"`
	DelegateID  string          `bson:"delegateId" json:"delegateId"`
	NodeType    NodeType        `bson:"nodeType" json:"nodeType"`
	NodeID      string          `bson:"nodeId" json:"nodeId"`
	Level       PermissionLevel `bson:"level" json:"level"`
	StartDate   int64           `bson:"startDate" json:"startDate"`
	EndDate     int64           `bson:"endDate" json:"endDate"`
	Reason      string          `bson:"reason,omitempty" json:"reason,omitempty"`
	IsActive    bool            `bson:"isActive" json:"isActive"`
	CreatedAt   int64           `bson:"createdAt" json:"createdAt"`
}

// ActiveAt reports whether the delegation contributes bits at the given Unix
// time. The window is [StartDate, EndDate).
func (d *PermissionDelegation) ActiveAt(now int64) bool {
	return d.IsActive && now >= d.StartDate && now < d.EndDate
}
