// Package middleware provides the authorization middleware consumed by every
// protected endpoint.
//
// # State Machine
//
// Each request walks the states below and ends in exactly one terminal state:
//
//	Unauthenticated -> TokenExtracted -> TokenVerified -> PermissionResolved -> Admitted
//	       |                 |                 |                   |
//	       +-----------------+-----------------+-------------------+--> Rejected
//
// Rejections carry a reason:
//
//	missing_token         no "Authorization: Bearer <token>" header (401)
//	invalid_token         the access token failed verification (401)
//	upstream_unavailable  permissions could not be resolved in time (503)
//	permission_denied     the requirement is not met (403)
//
// Resolution failures and timeouts reject; they never admit. Every rejection
// is emitted to the audit Emitter as {principal?, reason, resource, action}.
//
// # Usage
//
//	authz := middleware.NewAuthorizer(codec, cachedResolver,
//		middleware.WithEmitter(audit.NewLogEmitter(logger)),
//		middleware.WithLogger(logger),
//	)
//	router.Handle("/api/bills/{id}", authz.Require(
//		middleware.RequirePermissions("bill:delete"),
//	)(deleteBill)).Methods("DELETE")
//
// Handlers behind Require read the admitted identity with
// auth.IdentityFromContext.
package middleware
