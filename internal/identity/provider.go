// Package identity is the engine's view of users, roles and organizational
// structures. Membership data is owned by the identity services; this package
// only reads it and expands a user into the principal identities a grant can
// match.
package identity

import (
	"context"

	"permission-service/internal/models"
)

// Provider supplies membership lookups. IsAdministrator is the single most
// trusted call in the engine: a true answer bypasses resolution entirely.
type Provider interface {
	RolesOf(ctx context.Context, userID string) ([]string, error)
	StructuresOf(ctx context.Context, userID string) ([]string, error)
	AncestorStructures(ctx context.Context, structureID string) ([]string, error)
	IsAdministrator(ctx context.Context, userID string) (bool, error)
}

// PrincipalSet is the closed set of identities to test grants against for one
// user. AncestorStructures holds ancestors of the user's own structures; a
// grant on one of those applies only when it cascades to child structures.
type PrincipalSet struct {
	UserID             string
	Roles              map[string]bool
	Structures         map[string]bool
	AncestorStructures map[string]bool
}

// Expand builds the principal set for a user.
func Expand(ctx context.Context, provider Provider, userID string) (*PrincipalSet, error) {
	set := &PrincipalSet{
		UserID:             userID,
		Roles:              make(map[string]bool),
		Structures:         make(map[string]bool),
		AncestorStructures: make(map[string]bool),
	}

	roles, err := provider.RolesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		set.Roles[role] = true
	}

	structures, err := provider.StructuresOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, structure := range structures {
		set.Structures[structure] = true
	}

	for structure := range set.Structures {
		ancestors, err := provider.AncestorStructures(ctx, structure)
		if err != nil {
			return nil, err
		}
		for _, ancestor := range ancestors {
			if !set.Structures[ancestor] {
				set.AncestorStructures[ancestor] = true
			}
		}
	}

	return set, nil
}

// GrantApplies reports whether a grant's principal matches this user.
// Structure grants cascade downward only: a grant on an ancestor structure
// reaches the user when IncludeChildStructures is set, but a user's ancestor
// structures never inherit a descendant structure's grant.
func (s *PrincipalSet) GrantApplies(p *models.Permission) bool {
	switch p.PrincipalType {
	case models.PrincipalTypeUser:
		return p.PrincipalID == s.UserID
	case models.PrincipalTypeRole:
		return s.Roles[p.PrincipalID]
	case models.PrincipalTypeStructure:
		if s.Structures[p.PrincipalID] {
			return true
		}
		return p.IncludeChildStructures && s.AncestorStructures[p.PrincipalID]
	}
	return false
}
