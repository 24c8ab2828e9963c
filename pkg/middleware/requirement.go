package middleware

import (
	"net/http"

	"github.com/platinummonkey/dormshare/pkg/rbac"
)

// Requirement is the access rule an endpoint declares
type Requirement struct {
	Roles          []string
	Permissions    []string
	AllPermissions bool

	// Resource and Action label audit events. They default to the request
	// path and method.
	Resource string
	Action   string
}

// Authenticated admits any principal with a valid token
func Authenticated() Requirement {
	return Requirement{}
}

// RequireRoles admits principals holding at least one of roles
func RequireRoles(roles ...string) Requirement {
	return Requirement{Roles: roles}
}

// RequirePermissions admits principals holding at least one of codes
func RequirePermissions(codes ...string) Requirement {
	return Requirement{Permissions: codes}
}

// RequireAllPermissions admits principals holding every one of codes
func RequireAllPermissions(codes ...string) Requirement {
	return Requirement{Permissions: codes, AllPermissions: true}
}

// RequireAny admits principals holding any of roles or any of codes
func RequireAny(roles, codes []string) Requirement {
	return Requirement{Roles: roles, Permissions: codes}
}

// On labels the requirement for audit events
func (r Requirement) On(resource, action string) Requirement {
	r.Resource = resource
	r.Action = action
	return r
}

// Satisfied reports whether snapshot meets the requirement
func (r Requirement) Satisfied(snapshot *rbac.Snapshot) bool {
	if r.AllPermissions {
		return snapshot.Permissions.All(r.Permissions...)
	}
	if len(r.Roles) == 0 && len(r.Permissions) == 0 {
		return true
	}
	return snapshot.Satisfies(r.Roles, r.Permissions)
}

func (r Requirement) withRequestDefaults(req *http.Request) Requirement {
	if r.Resource == "" {
		r.Resource = req.URL.Path
	}
	if r.Action == "" {
		r.Action = req.Method
	}
	return r
}
