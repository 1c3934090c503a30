package identity

import (
	"context"
	"testing"

	"permission-service/internal/models"
)

type fakeProvider struct {
	roles      map[string][]string
	structures map[string][]string
	ancestors  map[string][]string
	admins     map[string]bool
}

func (f *fakeProvider) RolesOf(_ context.Context, userID string) ([]string, error) {
	return f.roles[userID], nil
}

func (f *fakeProvider) StructuresOf(_ context.Context, userID string) ([]string, error) {
	return f.structures[userID], nil
}

func (f *fakeProvider) AncestorStructures(_ context.Context, structureID string) ([]string, error) {
	return f.ancestors[structureID], nil
}

func (f *fakeProvider) IsAdministrator(_ context.Context, userID string) (bool, error) {
	return f.admins[userID], nil
}

func TestExpand_BuildsPrincipalSet(t *testing.T) {
	provider := &fakeProvider{
		roles:      map[string][]string{"alice": {"editor", "reviewer"}},
		structures: map[string][]string{"alice": {"team-a1"}},
		ancestors:  map[string][]string{"team-a1": {"dept-a", "company"}},
	}

	set, err := Expand(context.Background(), provider, "alice")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if set.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", set.UserID)
	}
	if !set.Roles["editor"] || !set.Roles["reviewer"] {
		t.Errorf("Roles = %v, want editor and reviewer", set.Roles)
	}
	if !set.Structures["team-a1"] {
		t.Errorf("Structures = %v, want team-a1", set.Structures)
	}
	if !set.AncestorStructures["dept-a"] || !set.AncestorStructures["company"] {
		t.Errorf("AncestorStructures = %v, want dept-a and company", set.AncestorStructures)
	}
}

func TestExpand_OwnStructureIsNotAnAncestor(t *testing.T) {
	// A user in both a team and its department: the department is a direct
	// structure, not an ancestor, so grants on it apply without cascade.
	provider := &fakeProvider{
		structures: map[string][]string{"bob": {"team-a1", "dept-a"}},
		ancestors: map[string][]string{
			"team-a1": {"dept-a"},
			"dept-a":  {},
		},
	}

	set, err := Expand(context.Background(), provider, "bob")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if !set.Structures["dept-a"] {
		t.Errorf("dept-a should be a direct structure")
	}
	if set.AncestorStructures["dept-a"] {
		t.Errorf("dept-a should not also appear as an ancestor")
	}
}

func TestGrantApplies(t *testing.T) {
	set := &PrincipalSet{
		UserID:             "alice",
		Roles:              map[string]bool{"editor": true},
		Structures:         map[string]bool{"team-a1": true},
		AncestorStructures: map[string]bool{"dept-a": true},
	}

	tests := []struct {
		name  string
		grant models.Permission
		want  bool
	}{
		{
			"user grant to self",
			models.Permission{PrincipalType: models.PrincipalTypeUser, PrincipalID: "alice"},
			true,
		},
		{
			"user grant to someone else",
			models.Permission{PrincipalType: models.PrincipalTypeUser, PrincipalID: "bob"},
			false,
		},
		{
			"role held",
			models.Permission{PrincipalType: models.PrincipalTypeRole, PrincipalID: "editor"},
			true,
		},
		{
			"role not held",
			models.Permission{PrincipalType: models.PrincipalTypeRole, PrincipalID: "auditor"},
			false,
		},
		{
			"direct structure without cascade",
			models.Permission{PrincipalType: models.PrincipalTypeStructure, PrincipalID: "team-a1"},
			true,
		},
		{
			"ancestor structure with cascade",
			models.Permission{PrincipalType: models.PrincipalTypeStructure, PrincipalID: "dept-a", IncludeChildStructures: true},
			true,
		},
		{
			"ancestor structure without cascade",
			models.Permission{PrincipalType: models.PrincipalTypeStructure, PrincipalID: "dept-a"},
			false,
		},
		{
			"unrelated structure with cascade",
			models.Permission{PrincipalType: models.PrincipalTypeStructure, PrincipalID: "dept-b", IncludeChildStructures: true},
			false,
		},
		{
			"unknown principal type",
			models.Permission{PrincipalType: "group", PrincipalID: "alice"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := set.GrantApplies(&tt.grant); got != tt.want {
				t.Errorf("GrantApplies(%+v) = %v, want %v", tt.grant, got, tt.want)
			}
		})
	}
}
