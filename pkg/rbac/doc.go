// Package rbac provides role-based access control for dormshare.
//
// # Overview
//
// Permissions are granted to roles and roles are assigned to principals. The
// credential store keeps both relations in junction tables that are joined at
// read time into two finite sets per principal: role names and permission
// codes.
//
// # Data Model
//
//	users             - principals, created at registration
//	roles             - (id, name, level); level is an ordering hint only
//	permissions       - (id, code, resource, action); code is "resource:action"
//	user_roles        - principal to role assignments
//	role_permissions  - role to permission grants
//
// # Resolving
//
// Resolver answers the authoritative queries. Every query runs under a
// timeout and failures wrap ErrStoreUnavailable so callers can fail closed:
//
//	resolver := rbac.NewResolver(db, rbac.WithQueryTimeout(2*time.Second))
//	snapshot, err := resolver.Load(ctx, principalID)
//	if err != nil {
//		// reject the request, never admit
//	}
//	snapshot.Permissions.Has("bill:delete")
//
// A principal without assignments resolves to empty sets and no error.
//
// # Mutations and Invalidation
//
// Store mutates assignments inside a transaction and then calls its
// Invalidator before returning:
//
//	AssignRoles, RemoveRoles             - invalidate the principal
//	GrantPermissions, RevokePermissions  - invalidate every holder of the role
//
// The permission cache in pkg/rbac/cache implements Invalidator.
//
// # Schema and Seeding
//
// Migrate creates the schema for postgres or sqlite3. LoadSeed reads a YAML
// file of roles, permission codes and assignments; ApplySeed is idempotent:
//
//	roles:
//	  - name: admin
//	    level: 100
//	    permissions: [bill:read, bill:delete, role:assign]
//	assignments:
//	  - principal_id: 1
//	    roles: [admin]
package rbac
