/*
Package api wires the dormshare HTTP surface.

Routes on the API server:

	POST   /auth/refresh                          exchange a refresh token for a new pair
	POST   /auth/logout                           revoke a refresh token
	GET    /admin/roles                           role:manage or role:assign
	POST   /admin/roles/{role}/permissions        role:manage
	DELETE /admin/roles/{role}/permissions/{code} role:manage
	GET    /admin/users/{id}/access               role:assign or user:read
	POST   /admin/users/{id}/roles                role:assign
	DELETE /admin/users/{id}/roles/{role}         role:assign
	GET    /api/me                                any authenticated principal
	GET    /api/bills                             bill:read
	DELETE /api/bills/{id}                        bill:delete

Every protected route passes through middleware.Authorizer.Require. The
health router, served on its own port, exposes /health/live, /health/ready
and /metrics.

Usage:

	srv := api.NewServer(api.Deps{
		Authorizer: authorizer,
		Sessions:   session.NewHandlers(sessions),
		RBAC:       rbac.NewHandlers(store, resolver),
		Logger:     logger,
	})
	http.ListenAndServe(":8080", srv)
*/
package api
