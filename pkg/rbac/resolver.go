package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/dormshare/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// DefaultQueryTimeout bounds every credential store query
const DefaultQueryTimeout = 2 * time.Second

const (
	principalQuery = `
		SELECT id, username
		FROM users
		WHERE id = $1
	`

	rolesQuery = `
		SELECT r.id, r.name, r.level
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`

	permissionsQuery = `
		SELECT DISTINCT p.id, p.code, p.resource, p.action
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.code
	`
)

// Resolver answers role and permission queries against the credential store.
// It holds no state besides the database handle.
type Resolver struct {
	db           *sql.DB
	queryTimeout time.Duration
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithQueryTimeout overrides DefaultQueryTimeout
func WithQueryTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.queryTimeout = d
		}
	}
}

// WithResolverLogger sets the logger for store failures
func WithResolverLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverMetrics sets the metrics sink
func WithResolverMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver over db
func NewResolver(db *sql.DB, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		db:           db,
		queryTimeout: DefaultQueryTimeout,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetPrincipal loads a principal by id
func (r *Resolver) GetPrincipal(ctx context.Context, principalID int64) (*Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	start := time.Now()
	var p Principal
	err := r.db.QueryRowContext(ctx, principalQuery, principalID).Scan(&p.ID, &p.Username)
	if errors.Is(err, sql.ErrNoRows) {
		r.metrics.RecordResolverQuery("principal", time.Since(start), nil)
		return nil, fmt.Errorf("principal %d: %w", principalID, ErrNotFound)
	}
	r.metrics.RecordResolverQuery("principal", time.Since(start), err)
	if err != nil {
		return nil, r.unavailable("principal", principalID, err)
	}
	return &p, nil
}

// GetRoles returns the roles assigned to a principal. A principal without
// assignments has an empty result and no error.
func (r *Resolver) GetRoles(ctx context.Context, principalID int64) ([]Role, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	start := time.Now()
	roles, err := r.queryRoles(ctx, principalID)
	r.metrics.RecordResolverQuery("roles", time.Since(start), err)
	if err != nil {
		return nil, r.unavailable("roles", principalID, err)
	}
	return roles, nil
}

func (r *Resolver) queryRoles(ctx context.Context, principalID int64) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, rolesQuery, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Level); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetPermissions returns the permissions granted to a principal through all
// of its roles
func (r *Resolver) GetPermissions(ctx context.Context, principalID int64) ([]Permission, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	start := time.Now()
	perms, err := r.queryPermissions(ctx, principalID)
	r.metrics.RecordResolverQuery("permissions", time.Since(start), err)
	if err != nil {
		return nil, r.unavailable("permissions", principalID, err)
	}
	return perms, nil
}

func (r *Resolver) queryPermissions(ctx context.Context, principalID int64) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx, permissionsQuery, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Load resolves roles and permissions concurrently. It returns both sets or
// an error, never a partial snapshot.
func (r *Resolver) Load(ctx context.Context, principalID int64) (*Snapshot, error) {
	var (
		roles []Role
		perms []Permission
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = r.GetRoles(gctx, principalID)
		return err
	})
	g.Go(func() error {
		var err error
		perms, err = r.GetPermissions(gctx, principalID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		PrincipalID: principalID,
		Roles:       make(Set, len(roles)),
		Permissions: make(Set, len(perms)),
	}
	for _, role := range roles {
		snapshot.Roles[role.Name] = struct{}{}
	}
	for _, p := range perms {
		snapshot.Permissions[p.Code] = struct{}{}
	}
	return snapshot, nil
}

// HasRole reports whether the principal holds at least one of roles
func (r *Resolver) HasRole(ctx context.Context, principalID int64, roles ...string) (bool, error) {
	held, err := r.GetRoles(ctx, principalID)
	if err != nil {
		return false, err
	}
	set := make(Set, len(held))
	for _, role := range held {
		set[role.Name] = struct{}{}
	}
	return set.Any(roles...), nil
}

// HasPermission reports whether the principal holds at least one of codes
func (r *Resolver) HasPermission(ctx context.Context, principalID int64, codes ...string) (bool, error) {
	set, err := r.permissionSet(ctx, principalID)
	if err != nil {
		return false, err
	}
	return set.Any(codes...), nil
}

// HasAllPermissions reports whether the principal holds every one of codes
func (r *Resolver) HasAllPermissions(ctx context.Context, principalID int64, codes ...string) (bool, error) {
	set, err := r.permissionSet(ctx, principalID)
	if err != nil {
		return false, err
	}
	return set.All(codes...), nil
}

func (r *Resolver) permissionSet(ctx context.Context, principalID int64) (Set, error) {
	perms, err := r.GetPermissions(ctx, principalID)
	if err != nil {
		return nil, err
	}
	set := make(Set, len(perms))
	for _, p := range perms {
		set[p.Code] = struct{}{}
	}
	return set, nil
}

func (r *Resolver) unavailable(query string, principalID int64, err error) error {
	r.logger.WithError(err).WithFields(map[string]interface{}{
		"query":        query,
		"principal_id": principalID,
	}).Error("credential store query failed")
	return fmt.Errorf("%w: %s query for principal %d: %w", ErrStoreUnavailable, query, principalID, err)
}
