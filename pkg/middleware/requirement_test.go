package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/dormshare/pkg/rbac"
)

func TestRequirement_Satisfied(t *testing.T) {
	admin := rbac.NewSnapshot(1, []string{"admin"}, []string{"bill:read", "bill:delete"})
	member := rbac.NewSnapshot(2, []string{"member"}, []string{"bill:read"})
	nobody := rbac.NewSnapshot(3, nil, nil)

	tests := []struct {
		name string
		req  Requirement
		want map[*rbac.Snapshot]bool
	}{
		{"authenticated", Authenticated(), map[*rbac.Snapshot]bool{admin: true, member: true, nobody: true}},
		{"role", RequireRoles("admin", "leader"), map[*rbac.Snapshot]bool{admin: true, member: false, nobody: false}},
		{"any permission", RequirePermissions("bill:delete", "bill:read"), map[*rbac.Snapshot]bool{admin: true, member: true, nobody: false}},
		{"all permissions", RequireAllPermissions("bill:delete", "bill:read"), map[*rbac.Snapshot]bool{admin: true, member: false, nobody: false}},
		{"empty all permissions", RequireAllPermissions(), map[*rbac.Snapshot]bool{admin: false, member: false, nobody: false}},
		{"role or permission", RequireAny([]string{"leader"}, []string{"bill:read"}), map[*rbac.Snapshot]bool{admin: true, member: true, nobody: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for snap, want := range tt.want {
				if got := tt.req.Satisfied(snap); got != want {
					t.Errorf("principal %d: Satisfied = %v, want %v", snap.PrincipalID, got, want)
				}
			}
		})
	}
}

func TestRequirement_Labels(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/bills", nil)

	req := RequirePermissions("bill:create").withRequestDefaults(r)
	if req.Resource != "/api/bills" || req.Action != "POST" {
		t.Errorf("unexpected defaults %q %q", req.Resource, req.Action)
	}

	req = RequirePermissions("bill:create").On("bill", "create").withRequestDefaults(r)
	if req.Resource != "bill" || req.Action != "create" {
		t.Errorf("explicit labels overwritten: %q %q", req.Resource, req.Action)
	}
}

func TestStateString(t *testing.T) {
	if StatePermissionResolved.String() != "permission_resolved" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
