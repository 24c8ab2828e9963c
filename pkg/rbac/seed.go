package rbac

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed describes roles, their permissions and optional principal assignments
type Seed struct {
	Roles       []SeedRole       `yaml:"roles"`
	Assignments []SeedAssignment `yaml:"assignments"`
}

// SeedRole is a role with its permission codes
type SeedRole struct {
	Name        string   `yaml:"name"`
	Level       int      `yaml:"level"`
	Permissions []string `yaml:"permissions"`
}

// SeedAssignment grants roles to an existing principal
type SeedAssignment struct {
	PrincipalID int64    `yaml:"principal_id"`
	Roles       []string `yaml:"roles"`
}

// DefaultSeed returns the built-in dormitory roles
func DefaultSeed() *Seed {
	return &Seed{
		Roles: []SeedRole{
			{
				Name:  RoleAdmin,
				Level: 100,
				Permissions: []string{
					"bill:read", "bill:create", "bill:update", "bill:delete",
					"activity:read", "activity:manage",
					"export:create", "statistics:read",
					"user:read", "role:assign", "role:manage",
				},
			},
			{
				Name:  RoleLeader,
				Level: 50,
				Permissions: []string{
					"bill:read", "bill:create", "bill:update",
					"activity:read", "activity:manage",
					"export:create", "statistics:read",
				},
			},
			{
				Name:  RoleMember,
				Level: 10,
				Permissions: []string{
					"bill:read", "bill:create",
					"activity:read", "statistics:read",
				},
			},
		},
	}
}

// LoadSeed reads a YAML seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks role names, permission codes and assignment targets
func (s *Seed) Validate() error {
	seen := make(map[string]bool, len(s.Roles))
	for i, role := range s.Roles {
		if role.Name == "" {
			return fmt.Errorf("seed role %d: name is required", i)
		}
		if seen[role.Name] {
			return fmt.Errorf("seed role %q declared twice", role.Name)
		}
		seen[role.Name] = true
		for _, code := range role.Permissions {
			if resource, action := SplitCode(code); resource == "" || action == "" {
				return fmt.Errorf("seed role %q: invalid permission code %q", role.Name, code)
			}
		}
	}
	for i, a := range s.Assignments {
		if a.PrincipalID <= 0 {
			return fmt.Errorf("seed assignment %d: principal_id must be positive", i)
		}
	}
	return nil
}

// ApplySeed creates the seed roles and permissions and applies its
// assignments. It is safe to run repeatedly.
func ApplySeed(ctx context.Context, store *Store, seed *Seed) error {
	for _, role := range seed.Roles {
		if _, err := store.CreateRole(ctx, role.Name, role.Level); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
		if len(role.Permissions) == 0 {
			continue
		}
		if err := store.GrantPermissions(ctx, role.Name, role.Permissions...); err != nil {
			return fmt.Errorf("failed to seed permissions of %s: %w", role.Name, err)
		}
	}

	for _, a := range seed.Assignments {
		if err := store.AssignRoles(ctx, a.PrincipalID, a.Roles...); err != nil {
			return fmt.Errorf("failed to seed roles of principal %d: %w", a.PrincipalID, err)
		}
	}
	return nil
}
