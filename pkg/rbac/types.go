package rbac

import (
	"sort"
	"strings"
)

// Built-in role names seeded for every dormitory tenant
const (
	RoleAdmin  = "admin"
	RoleLeader = "leader"
	RoleMember = "member"
)

// Principal is a user identity. Principals are created at registration and
// are read-only to this package.
type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Role groups permissions. Level is an ordering hint only and is never
// evaluated as a hierarchy.
type Role struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Permission is a single grant identified by its code, "resource:action"
type Permission struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// String returns the permission code
func (p Permission) String() string {
	return p.Code
}

// NewPermission builds a permission from its code
func NewPermission(code string) Permission {
	resource, action := SplitCode(code)
	return Permission{Code: code, Resource: resource, Action: action}
}

// SplitCode splits "resource:action". A code without a colon is all resource.
func SplitCode(code string) (resource, action string) {
	resource, action, _ = strings.Cut(code, ":")
	return resource, action
}

// Set is a finite set of role names or permission codes
type Set map[string]struct{}

// NewSet creates a set from values, ignoring empty strings
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		if v != "" {
			s[v] = struct{}{}
		}
	}
	return s
}

// Has reports whether v is in the set
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Any reports whether at least one of values is in the set. An empty
// request is never satisfied.
func (s Set) Any(values ...string) bool {
	for _, v := range values {
		if s.Has(v) {
			return true
		}
	}
	return false
}

// All reports whether every value is in the set. An empty request is never
// satisfied.
func (s Set) All(values ...string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !s.Has(v) {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the resolved authorization state of one principal
type Snapshot struct {
	PrincipalID int64
	Roles       Set
	Permissions Set
}

// NewSnapshot creates a snapshot from role names and permission codes
func NewSnapshot(principalID int64, roles, permissions []string) *Snapshot {
	return &Snapshot{
		PrincipalID: principalID,
		Roles:       NewSet(roles...),
		Permissions: NewSet(permissions...),
	}
}

// Satisfies reports whether the snapshot holds any of roles or any of
// permissions
func (s *Snapshot) Satisfies(roles, permissions []string) bool {
	return s.Roles.Any(roles...) || s.Permissions.Any(permissions...)
}
