package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/platinummonkey/dormshare/pkg/audit"
	"github.com/platinummonkey/dormshare/pkg/auth"
	"github.com/platinummonkey/dormshare/pkg/middleware"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/platinummonkey/dormshare/pkg/rbac"
	"github.com/platinummonkey/dormshare/pkg/rbac/cache"
	"github.com/platinummonkey/dormshare/pkg/revocation"
	"github.com/platinummonkey/dormshare/pkg/session"
	"github.com/platinummonkey/dormshare/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	db       *sql.DB
	store    *rbac.Store
	sessions *session.Service
	events   []*audit.Event
	metrics  *observability.Metrics
	server   *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenDB(ctx, storage.DBConfig{Driver: "sqlite3", URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, rbac.Migrate(ctx, db, "sqlite3"))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	resolver := rbac.NewResolver(db)
	cached := cache.NewResolver(cache.NewMemoryCache(nil), resolver, nil, metrics)
	store := rbac.NewStore(db, cached, nil)
	require.NoError(t, rbac.ApplySeed(ctx, store, rbac.DefaultSeed()))

	registry := revocation.NewMemoryRegistry(nil)
	access, err := auth.NewKeyRing("api-test-access-secret-0123456789abc")
	require.NoError(t, err)
	refresh, err := auth.NewKeyRing("api-test-refresh-secret-0123456789ab")
	require.NoError(t, err)
	codec, err := auth.NewCodec(access, refresh, auth.WithRevocationChecker(registry))
	require.NoError(t, err)

	env := &testEnv{db: db, store: store, metrics: metrics}
	authorizer := middleware.NewAuthorizer(codec, cached,
		middleware.WithMetrics(metrics),
		middleware.WithEmitter(audit.EmitterFunc(func(ctx context.Context, e *audit.Event) error {
			env.events = append(env.events, e)
			return nil
		})),
	)
	env.sessions = session.NewService(codec, resolver, cached, registry)
	env.server = NewServer(Deps{
		Authorizer: authorizer,
		Sessions:   session.NewHandlers(env.sessions),
		RBAC:       rbac.NewHandlers(store, resolver),
	})
	return env
}

func (e *testEnv) addUser(t *testing.T, username string, roles ...string) (int64, *session.TokenPair) {
	t.Helper()
	res, err := e.db.Exec(`INSERT INTO users (username) VALUES ($1)`, username)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	if len(roles) > 0 {
		require.NoError(t, e.store.AssignRoles(context.Background(), id, roles...))
	}
	pair, err := e.sessions.Issue(context.Background(), id)
	require.NoError(t, err)
	return id, pair
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func TestServer_Me(t *testing.T) {
	env := newTestEnv(t)
	id, pair := env.addUser(t, "u1", rbac.RoleMember)

	w := env.do("GET", "/api/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = env.do("GET", "/api/me", pair.AccessToken, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var me MeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&me))
	assert.Equal(t, id, me.ID)
	assert.Equal(t, "u1", me.Username)
	assert.Equal(t, []string{rbac.RoleMember}, me.Roles)
	assert.Contains(t, me.Permissions, "bill:read")
}

func TestServer_BillRoutes(t *testing.T) {
	env := newTestEnv(t)
	_, member := env.addUser(t, "member", rbac.RoleMember)
	_, admin := env.addUser(t, "admin", rbac.RoleAdmin)

	w := env.do("GET", "/api/bills", member.AccessToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("DELETE", "/api/bills/7", member.AccessToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient permissions")

	require.Len(t, env.events, 1)
	assert.Equal(t, audit.ReasonPermissionDenied, env.events[0].Reason)
	assert.Equal(t, "bill", env.events[0].Resource)
	assert.Equal(t, "delete", env.events[0].Action)

	w = env.do("DELETE", "/api/bills/7", admin.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do("DELETE", "/api/bills/7", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), `error="invalid_token"`)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.AuthzDecisionsTotal.WithLabelValues("rejected", "permission_denied")))
}

func TestServer_RoleAssignmentTakesEffectImmediately(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.addUser(t, "admin", rbac.RoleAdmin)
	userID, user := env.addUser(t, "u1", rbac.RoleMember)

	// Warm the cache with the member snapshot.
	w := env.do("DELETE", "/api/bills/1", user.AccessToken, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	path := "/admin/users/" + strconv.FormatInt(userID, 10) + "/roles"
	w = env.do("POST", path, user.AccessToken, `{"roles":["admin"]}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "members cannot assign roles")

	w = env.do("POST", path, admin.AccessToken, `{"roles":["admin"]}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do("DELETE", "/api/bills/1", user.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do("DELETE", path+"/admin", admin.AccessToken, "")
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do("DELETE", "/api/bills/1", user.AccessToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_GrantPermissionToRole(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.addUser(t, "admin", rbac.RoleAdmin)
	_, user := env.addUser(t, "u1", rbac.RoleMember)

	w := env.do("DELETE", "/api/bills/3", user.AccessToken, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do("POST", "/admin/roles/member/permissions", admin.AccessToken, `{"permissions":["bill:delete"]}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do("DELETE", "/api/bills/3", user.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do("DELETE", "/admin/roles/member/permissions/bill:delete", admin.AccessToken, "")
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do("DELETE", "/api/bills/3", user.AccessToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_RefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	_, pair := env.addUser(t, "u1", rbac.RoleMember)

	body := `{"refresh_token":"` + pair.RefreshToken + `"}`
	w := env.do("POST", "/auth/refresh", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var next session.TokenPair
	require.NoError(t, json.NewDecoder(w.Body).Decode(&next))
	assert.NotEmpty(t, next.AccessToken)
	assert.Equal(t, "Bearer", next.TokenType)

	w = env.do("GET", "/api/me", next.AccessToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// The original refresh token was rotated out.
	w = env.do("POST", "/auth/refresh", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	nextBody := `{"refresh_token":"` + next.RefreshToken + `"}`
	w = env.do("POST", "/auth/logout", "", nextBody)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do("POST", "/auth/refresh", "", nextBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("POST", "/auth/refresh", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_RequestIDPropagates(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
	require.Len(t, env.events, 1)
	assert.Equal(t, "req-abc", env.events[0].RequestID)
	assert.Equal(t, audit.ReasonMissingToken, env.events[0].Reason)
}

func TestHealthRouter(t *testing.T) {
	db, err := storage.OpenDB(context.Background(), storage.DBConfig{Driver: "sqlite3", URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	metrics.RecordTokenIssued("access")

	router := NewHealthRouter(observability.NewHealthChecker(db, nil), registry)

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "dormshare_"), "expected dormshare metrics")
}
