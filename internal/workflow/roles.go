package workflow

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/permit-api/internal/models"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

// Role is a registry entry: the stages a role reads and the seat it acts in.
type Role struct {
	ID     int                  `yaml:"id"`
	Name   models.RoleName      `yaml:"name"`
	Seat   models.RoleName      `yaml:"seat"`
	Stages []models.PermitStage `yaml:"stages"`
	Alias  []string             `yaml:"aliases"`
}

// HasInbox reports whether the role is mapped to at least one stage.
func (r Role) HasInbox() bool {
	return len(r.Stages) > 0
}

// CanRead reports whether the stage belongs to the role's inbox.
func (r Role) CanRead(stage models.PermitStage) bool {
	for _, s := range r.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// View converts the role into its API representation.
func (r Role) View() models.RoleView {
	stages := make([]models.PermitStage, len(r.Stages))
	copy(stages, r.Stages)
	return models.RoleView{RoleID: r.ID, RoleName: r.Name, Seat: r.Seat, Stages: stages}
}

// Registry is an immutable role lookup table.
type Registry struct {
	byID    map[int]Role
	byName  map[models.RoleName]Role
	aliases map[string]models.RoleName
}

// DefaultRoles returns the built-in role definitions.
func DefaultRoles() []Role {
	return []Role{
		{ID: models.RoleIDAdmin, Name: models.RoleAdmin},
		{
			ID: models.RoleIDDC, Name: models.RoleDC, Seat: models.RoleDC,
			Stages: []models.PermitStage{models.StageDCPending, models.StageDCFinalPending},
			Alias:  []string{"DEPUTY_COMMISSIONER"},
		},
		{
			ID: models.RoleIDSP, Name: models.RoleSP, Seat: models.RoleSP,
			Stages: []models.PermitStage{models.StageSPPending, models.StageSPReviewPending},
			Alias:  []string{"STATE_POLICE"},
		},
		{
			ID: models.RoleIDSDPO, Name: models.RoleSDPO, Seat: models.RoleSDPO,
			Stages: []models.PermitStage{models.StageSDPOPending, models.StageSDPOReviewPending},
			Alias:  []string{"SUB_DIVISIONAL_POLICE_OFFICER"},
		},
		{
			ID: models.RoleIDOC, Name: models.RoleOC, Seat: models.RoleOC,
			Stages: []models.PermitStage{models.StageOCPending},
			Alias:  []string{"OFFICER_IN_CHARGE"},
		},
		{
			ID: models.RoleIDAuthority, Name: models.RoleAuthority, Seat: models.RoleSP,
			Stages: []models.PermitStage{models.StageSPPending, models.StageSPReviewPending},
		},
		{ID: models.RoleIDApplicant, Name: models.RoleApplicant},
	}
}

// DefaultRegistry builds the registry from DefaultRoles.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultRoles())
	if err != nil {
		panic(err)
	}
	return reg
}

// NewRegistry validates the definitions and indexes them.
func NewRegistry(roles []Role) (*Registry, error) {
	reg := &Registry{
		byID:    make(map[int]Role, len(roles)),
		byName:  make(map[models.RoleName]Role, len(roles)),
		aliases: make(map[string]models.RoleName),
	}
	seats := map[models.RoleName]struct{}{}
	for _, t := range table {
		seats[t.Seat] = struct{}{}
	}

	for _, r := range roles {
		r.Name = models.RoleName(strings.ToUpper(strings.TrimSpace(string(r.Name))))
		r.Seat = models.RoleName(strings.ToUpper(strings.TrimSpace(string(r.Seat))))
		if r.ID <= 0 || r.Name == "" {
			return nil, fmt.Errorf("role definition requires id and name")
		}
		if _, dup := reg.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate role id %d", r.ID)
		}
		if _, dup := reg.byName[r.Name]; dup {
			return nil, fmt.Errorf("duplicate role name %s", r.Name)
		}
		if r.Seat != "" {
			if _, ok := seats[r.Seat]; !ok {
				return nil, fmt.Errorf("role %s: unknown seat %s", r.Name, r.Seat)
			}
		}
		for _, s := range r.Stages {
			if Rank(s) < 0 || IsTerminal(s) {
				return nil, fmt.Errorf("role %s: stage %s cannot be assigned", r.Name, s)
			}
		}
		reg.byID[r.ID] = r
		reg.byName[r.Name] = r
		for _, a := range r.Alias {
			key := strings.ToUpper(strings.TrimSpace(a))
			if key == "" {
				continue
			}
			if other, dup := reg.aliases[key]; dup && other != r.Name {
				return nil, fmt.Errorf("alias %s used by %s and %s", key, other, r.Name)
			}
			reg.aliases[key] = r.Name
		}
	}
	return reg, nil
}

type registryFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadRegistryFile reads role definitions from a YAML document.
func LoadRegistryFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role registry: %w", err)
	}
	return ParseRegistry(raw)
}

// ParseRegistry decodes YAML role definitions.
func ParseRegistry(raw []byte) (*Registry, error) {
	var doc registryFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode role registry: %w", err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("role registry has no roles")
	}
	return NewRegistry(doc.Roles)
}

// Lookup finds a role by name or alias.
func (r *Registry) Lookup(name models.RoleName) (Role, bool) {
	key := models.RoleName(strings.ToUpper(strings.TrimSpace(string(name))))
	if role, ok := r.byName[key]; ok {
		return role, true
	}
	if canonical, ok := r.aliases[string(key)]; ok {
		role, found := r.byName[canonical]
		return role, found
	}
	return Role{}, false
}

// LookupID finds a role by numeric id.
func (r *Registry) LookupID(id int) (Role, bool) {
	role, ok := r.byID[id]
	return role, ok
}

// ForActor resolves the actor's role, preferring the role name over the id.
func (r *Registry) ForActor(actor models.Actor) (Role, error) {
	if actor.RoleName != "" {
		if role, ok := r.Lookup(actor.RoleName); ok {
			return role, nil
		}
	}
	if actor.RoleID > 0 {
		if role, ok := r.LookupID(actor.RoleID); ok {
			return role, nil
		}
	}
	return Role{}, appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrRoleNotAuthorized, "unknown role"),
		map[string]interface{}{"roleId": actor.RoleID, "roleName": actor.RoleName},
	)
}

// StagesFor maps a role to the stages in its inbox.
func (r *Registry) StagesFor(actor models.Actor) ([]models.PermitStage, error) {
	role, err := r.ForActor(actor)
	if err != nil {
		return nil, err
	}
	if !role.HasInbox() {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrRoleNotAuthorized, "role has no inbox"),
			map[string]interface{}{"roleName": role.Name},
		)
	}
	out := make([]models.PermitStage, len(role.Stages))
	copy(out, role.Stages)
	return out, nil
}

// IsAuthority reports whether the role holds a workflow seat.
func (r *Registry) IsAuthority(actor models.Actor) bool {
	role, err := r.ForActor(actor)
	return err == nil && role.Seat != ""
}

// Roles lists every role ordered by id.
func (r *Registry) Roles() []Role {
	out := make([]Role, 0, len(r.byID))
	for _, role := range r.byID {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
