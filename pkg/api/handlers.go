package api

import (
	"net/http"

	"github.com/platinummonkey/dormshare/pkg/httputil"
	"github.com/platinummonkey/dormshare/pkg/middleware"
)

// MeResponse describes the calling principal
type MeResponse struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// me handles GET /api/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromRequest(r)
	if !ok {
		httputil.WriteInternalError(w)
		return
	}
	roles, perms := identity.Roles, identity.Permissions
	if roles == nil {
		roles = []string{}
	}
	if perms == nil {
		perms = []string{}
	}
	httputil.WriteSuccess(w, MeResponse{
		ID:          identity.PrincipalID,
		Username:    identity.Username,
		Roles:       roles,
		Permissions: perms,
	})
}

// Bill CRUD lives in a separate service. These routes only demonstrate
// permission gating and return placeholders.

// listBills handles GET /api/bills
func (s *Server) listBills(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"bills": []interface{}{},
	})
}

// deleteBill handles DELETE /api/bills/{id}
func (s *Server) deleteBill(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	identity, _ := middleware.IdentityFromRequest(r)
	s.logger.WithFields(map[string]interface{}{
		"bill_id":      id,
		"principal_id": identity.PrincipalID,
	}).Info("bill delete accepted")
	httputil.WriteNoContent(w)
}
