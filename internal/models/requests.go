package models

import "permission-service/internal/apperrors"

type GrantPermissionRequest struct {
	NodeType               NodeType        `json:"nodeType"`
	NodeID                 string          `json:"nodeId"`
	PrincipalType          PrincipalType   `json:"principalType"`
	PrincipalID            string          `json:"principalId"`
	Level                  PermissionLevel `json:"level"`
	IncludeChildStructures bool            `json:"includeChildStructures"`
	ExpiresAt              int64           `json:"expiresAt,omitempty"`
	GrantedReason          string          `json:"grantedReason,omitempty"`
}

func (r *GrantPermissionRequest) Validate(now int64) error {
	if !r.NodeType.Valid() {
		return apperrors.NewValidation("nodeType", "must be cabinet, folder or document")
	}
	if r.NodeID == "" {
		return apperrors.NewValidation("nodeId", "is required")
	}
	if !r.PrincipalType.Valid() {
		return apperrors.NewValidation("principalType", "must be user, role or structure")
	}
	if r.PrincipalID == "" {
		return apperrors.NewValidation("principalId", "is required")
	}
	if !r.Level.Valid() {
		return apperrors.NewValidation("level", "must be a non-zero combination of read(1), write(2), delete(4), admin(8)")
	}
	if r.ExpiresAt != 0 && r.ExpiresAt <= now {
		return apperrors.NewValidation("expiresAt", "must be in the future")
	}
	if r.IncludeChildStructures && r.PrincipalType != PrincipalTypeStructure {
		return apperrors.NewValidation("includeChildStructures", "only meaningful for structure principals")
	}
	return nil
}

// UpdatePermissionRequest replaces the mutable subset of a grant. Node and
// principal cannot change after creation; re-grant instead.
type UpdatePermissionRequest struct {
	Level                  PermissionLevel `json:"level"`
	IncludeChildStructures bool            `json:"includeChildStructures"`
	ExpiresAt              int64           `json:"expiresAt,omitempty"`
	GrantedReason          string          `json:"grantedReason,omitempty"`
}

func (r *UpdatePermissionRequest) Validate(now int64) error {
	if !r.Level.Valid() {
		return apperrors.NewValidation("level", "must be a non-zero combination of read(1), write(2), delete(4), admin(8)")
	}
	if r.ExpiresAt != 0 && r.ExpiresAt <= now {
		return apperrors.NewValidation("expiresAt", "must be in the future")
	}
	return nil
}

type CreateDelegationRequest struct {
	DelegateID string          `json:"delegateId"`
	NodeType   NodeType        `json:"nodeType"`
	NodeID     string          `json:"nodeId"`
	Level      PermissionLevel `json:"level"`
	StartDate  int64           `json:"startDate"`
	EndDate    int64           `json:"endDate"`
	Reason     string          `json:"reason,omitempty"`
}

func (r *CreateDelegationRequest) Validate() error {
	if r.DelegateID == "" {
		return apperrors.NewValidation("delegateId", "is required")
	}
	if !r.NodeType.Valid() {
		return apperrors.NewValidation("nodeType", "must be cabinet, folder or document")
	}
	if r.NodeID == "" {
		return apperrors.NewValidation("nodeId", "is required")
	}
	if !r.Level.Valid() {
		return apperrors.NewValidation("level", "must be a non-zero combination of read(1), write(2), delete(4), admin(8)")
	}
	if r.StartDate >= r.EndDate {
		return apperrors.NewValidation("endDate", "must be after startDate")
	}
	return nil
}
