package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/dormshare/pkg/observability"
)

// Invalidator drops cached authorization state for a principal. Store calls
// it synchronously after every committed mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, principalID int64) error
}

// InvalidatorFunc adapts a function to Invalidator
type InvalidatorFunc func(ctx context.Context, principalID int64) error

// Invalidate calls f
func (f InvalidatorFunc) Invalidate(ctx context.Context, principalID int64) error {
	return f(ctx, principalID)
}

// Store handles credential store mutations
type Store struct {
	db          *sql.DB
	invalidator Invalidator
	logger      *observability.Logger
}

// NewStore creates a new credential store. invalidator may be nil when no
// permission cache is in use.
func NewStore(db *sql.DB, invalidator Invalidator, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		db:          db,
		invalidator: invalidator,
		logger:      logger.WithField("component", "rbac_store"),
	}
}

// CreateRole creates a role or updates the level of an existing one
func (s *Store) CreateRole(ctx context.Context, name string, level int) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("role name is required")
	}

	query := `
		INSERT INTO roles (name, level)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET level = EXCLUDED.level
		RETURNING id
	`

	role := &Role{Name: name, Level: level}
	if err := s.db.QueryRowContext(ctx, query, name, level).Scan(&role.ID); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

// CreatePermission creates a permission by code, returning the existing one
// if the code is already known
func (s *Store) CreatePermission(ctx context.Context, code string) (*Permission, error) {
	return createPermission(ctx, s.db, code)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func createPermission(ctx context.Context, q queryer, code string) (*Permission, error) {
	code = strings.TrimSpace(code)
	resource, action := SplitCode(code)
	if resource == "" || action == "" {
		return nil, fmt.Errorf("invalid permission code %q: want resource:action", code)
	}

	query := `
		INSERT INTO permissions (code, resource, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET resource = EXCLUDED.resource
		RETURNING id
	`

	p := &Permission{Code: code, Resource: resource, Action: action}
	if err := q.QueryRowContext(ctx, query, code, resource, action).Scan(&p.ID); err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return p, nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return getRoleByName(ctx, s.db, name)
}

func getRoleByName(ctx context.Context, q queryer, name string) (*Role, error) {
	query := `
		SELECT id, name, level
		FROM roles
		WHERE name = $1
	`

	var role Role
	err := q.QueryRowContext(ctx, query, name).Scan(&role.ID, &role.Name, &role.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles lists all roles ordered by level, highest first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT id, name, level
		FROM roles
		ORDER BY level DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Level); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// RolePermissions lists the permission codes granted to a role
func (s *Store) RolePermissions(ctx context.Context, roleName string) ([]string, error) {
	query := `
		SELECT p.code
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN roles r ON r.id = rp.role_id
		WHERE r.name = $1
		ORDER BY p.code
	`

	rows, err := s.db.QueryContext(ctx, query, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// PrincipalsWithRole returns the ids of every principal holding the role
func (s *Store) PrincipalsWithRole(ctx context.Context, roleName string) ([]int64, error) {
	return roleHolders(ctx, s.db, roleName)
}

type rowsQueryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func roleHolders(ctx context.Context, q rowsQueryer, roleName string) ([]int64, error) {
	query := `
		SELECT ur.user_id
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE r.name = $1
		ORDER BY ur.user_id
	`

	rows, err := q.QueryContext(ctx, query, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AssignRoles grants roles to a principal and invalidates its cached
// permissions before returning. Existing assignments are kept.
func (s *Store) AssignRoles(ctx context.Context, principalID int64, roleNames ...string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := principalExists(ctx, tx, principalID); err != nil {
			return err
		}
		for _, name := range roleNames {
			role, err := getRoleByName(ctx, tx, name)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO user_roles (user_id, role_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, principalID, role.ID)
			if err != nil {
				return fmt.Errorf("failed to assign role %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"principal_id": principalID,
		"roles":        roleNames,
	}).Info("roles assigned")
	return s.invalidate(ctx, principalID)
}

// RemoveRoles revokes roles from a principal and invalidates its cached
// permissions before returning. Removing an unassigned role is a no-op.
func (s *Store) RemoveRoles(ctx context.Context, principalID int64, roleNames ...string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range roleNames {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM user_roles
				WHERE user_id = $1 AND role_id IN (SELECT id FROM roles WHERE name = $2)
			`, principalID, name)
			if err != nil {
				return fmt.Errorf("failed to remove role %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"principal_id": principalID,
		"roles":        roleNames,
	}).Info("roles removed")
	return s.invalidate(ctx, principalID)
}

// GrantPermissions adds permissions to a role, creating unknown codes, and
// invalidates every principal holding the role
func (s *Store) GrantPermissions(ctx context.Context, roleName string, codes ...string) error {
	var holders []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		role, err := getRoleByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		for _, code := range codes {
			p, err := createPermission(ctx, tx, code)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, role.ID, p.ID)
			if err != nil {
				return fmt.Errorf("failed to grant permission %q: %w", code, err)
			}
		}
		// Holders are read in the same transaction.
		holders, err = roleHolders(ctx, tx, roleName)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"role":        roleName,
		"permissions": codes,
	}).Info("permissions granted")
	return s.invalidateAll(ctx, holders)
}

// RevokePermissions removes permissions from a role and invalidates every
// principal holding the role
func (s *Store) RevokePermissions(ctx context.Context, roleName string, codes ...string) error {
	var holders []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		role, err := getRoleByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		for _, code := range codes {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM role_permissions
				WHERE role_id = $1 AND permission_id IN (SELECT id FROM permissions WHERE code = $2)
			`, role.ID, code)
			if err != nil {
				return fmt.Errorf("failed to revoke permission %q: %w", code, err)
			}
		}
		// Holders are read in the same transaction.
		holders, err = roleHolders(ctx, tx, roleName)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"role":        roleName,
		"permissions": codes,
	}).Info("permissions revoked")
	return s.invalidateAll(ctx, holders)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func principalExists(ctx context.Context, q queryer, principalID int64) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1`, principalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("principal %d: %w", principalID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get principal: %w", err)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, principalID int64) error {
	if s.invalidator == nil {
		return nil
	}
	if err := s.invalidator.Invalidate(ctx, principalID); err != nil {
		s.logger.WithError(err).WithField("principal_id", principalID).Error("permission cache invalidation failed")
		return fmt.Errorf("failed to invalidate permissions of principal %d: %w", principalID, err)
	}
	return nil
}

func (s *Store) invalidateAll(ctx context.Context, principalIDs []int64) error {
	if s.invalidator == nil {
		return nil
	}
	var errs []error
	for _, id := range principalIDs {
		if err := s.invalidate(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
