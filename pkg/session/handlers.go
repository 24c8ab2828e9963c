package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/dormshare/pkg/auth"
	"github.com/platinummonkey/dormshare/pkg/httputil"
)

// Handlers exposes the refresh and logout endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates session handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /auth/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, strings.TrimSpace(req.RefreshToken), "refresh_token") {
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// Logout handles POST /auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, strings.TrimSpace(req.RefreshToken), "refresh_token") {
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		httputil.WriteInternalError(w)
		return
	}
	if authErr.Retryable() {
		httputil.WriteServiceUnavailable(w, authErr.Public(), time.Second)
		return
	}
	httputil.WriteErrorMessage(w, authErr.Kind.HTTPStatus(), authErr.Public())
}
