package rbac

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/dormshare/pkg/httputil"
)

// Handlers provides HTTP handlers for role administration. Routes are
// registered by pkg/api behind the authorization middleware.
type Handlers struct {
	store    *Store
	resolver *Resolver
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, resolver *Resolver) *Handlers {
	return &Handlers{
		store:    store,
		resolver: resolver,
	}
}

type roleView struct {
	Role
	Permissions []string `json:"permissions"`
}

// ListRoles lists all roles with their permission codes
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roles, err := h.store.ListRoles(ctx)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to list roles")
		return
	}

	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		codes, err := h.store.RolePermissions(ctx, role.Name)
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to list roles")
			return
		}
		views = append(views, roleView{Role: role, Permissions: codes})
	}

	httputil.WriteSuccess(w, views)
}

// GetPrincipalAccess returns the live roles and permissions of a principal
func (h *Handlers) GetPrincipalAccess(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	snapshot, err := h.resolver.Load(r.Context(), principalID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": principalID,
		"roles":        snapshot.Roles.Sorted(),
		"permissions":  snapshot.Permissions.Sorted(),
	})
}

// AssignRoles assigns roles to a principal
func (h *Handlers) AssignRoles(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Roles []string `json:"roles"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Roles) == 0 {
		httputil.WriteValidationError(w, "roles is required")
		return
	}

	if err := h.store.AssignRoles(r.Context(), principalID, req.Roles...); err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// RemoveRole removes a single role from a principal
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}

	if err := h.store.RemoveRoles(r.Context(), principalID, role); err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GrantPermissions grants permission codes to a role
func (h *Handlers) GrantPermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Permissions) == 0 {
		httputil.WriteValidationError(w, "permissions is required")
		return
	}
	for _, code := range req.Permissions {
		if resource, action := SplitCode(strings.TrimSpace(code)); resource == "" || action == "" {
			httputil.WriteValidationError(w, "permission codes must have the form resource:action")
			return
		}
	}

	if err := h.store.GrantPermissions(r.Context(), role, req.Permissions...); err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// RevokePermission revokes a single permission code from a role
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	if err := h.store.RevokePermissions(r.Context(), role, code); err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, ErrStoreUnavailable):
		httputil.WriteServiceUnavailable(w, "service temporarily unavailable", time.Second)
	default:
		httputil.WriteInternalError(w)
	}
}
