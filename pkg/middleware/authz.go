package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/dormshare/pkg/audit"
	"github.com/platinummonkey/dormshare/pkg/auth"
	"github.com/platinummonkey/dormshare/pkg/contextkeys"
	"github.com/platinummonkey/dormshare/pkg/httputil"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/platinummonkey/dormshare/pkg/rbac"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultResolveTimeout bounds permission resolution per request
	DefaultResolveTimeout = 3 * time.Second
	// DefaultRetryAfter is advertised on upstream_unavailable rejections
	DefaultRetryAfter = time.Second
)

// State is a step of the authorization state machine
type State int

const (
	StateUnauthenticated State = iota
	StateTokenExtracted
	StateTokenVerified
	StatePermissionResolved
	StateAdmitted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateTokenExtracted:
		return "token_extracted"
	case StateTokenVerified:
		return "token_verified"
	case StatePermissionResolved:
		return "permission_resolved"
	case StateAdmitted:
		return "admitted"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// TokenVerifier verifies access tokens. *auth.Codec implements it.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// SnapshotResolver returns a principal's roles and permissions.
// *cache.Resolver implements it.
type SnapshotResolver interface {
	Snapshot(ctx context.Context, principalID int64) (*rbac.Snapshot, error)
}

// Decision is the outcome of one authorization attempt
type Decision struct {
	State    State
	Reason   audit.Reason
	Identity *auth.Identity
	// Err is the internal cause of a rejection. It is never sent to clients.
	Err *auth.Error
	// Path lists the states visited, ending with the terminal one
	Path []State
}

// Admitted reports whether the request may proceed
func (d Decision) Admitted() bool {
	return d.State == StateAdmitted
}

// Status returns the HTTP status of the decision
func (d Decision) Status() int {
	if d.Admitted() {
		return http.StatusOK
	}
	return d.Err.Kind.HTTPStatus()
}

func (d *Decision) enter(s State) {
	d.State = s
	d.Path = append(d.Path, s)
}

// Authorizer runs the authorization state machine
type Authorizer struct {
	verifier       TokenVerifier
	resolver       SnapshotResolver
	emitter        audit.Emitter
	logger         *observability.Logger
	metrics        *observability.Metrics
	tracer         trace.Tracer
	resolveTimeout time.Duration
	retryAfter     time.Duration
	now            func() time.Time
}

// Option configures an Authorizer
type Option func(*Authorizer)

// WithEmitter sets the audit emitter receiving rejections
func WithEmitter(emitter audit.Emitter) Option {
	return func(a *Authorizer) {
		if emitter != nil {
			a.emitter = emitter
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(a *Authorizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Authorizer) {
		a.metrics = m
	}
}

// WithTracer overrides the tracer, mostly for tests
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Authorizer) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// WithResolveTimeout bounds permission resolution
func WithResolveTimeout(d time.Duration) Option {
	return func(a *Authorizer) {
		if d > 0 {
			a.resolveTimeout = d
		}
	}
}

// WithRetryAfter sets the Retry-After hint sent with 503 responses
func WithRetryAfter(d time.Duration) Option {
	return func(a *Authorizer) {
		if d > 0 {
			a.retryAfter = d
		}
	}
}

// NewAuthorizer creates an authorizer
func NewAuthorizer(verifier TokenVerifier, resolver SnapshotResolver, opts ...Option) *Authorizer {
	a := &Authorizer{
		verifier:       verifier,
		resolver:       resolver,
		emitter:        audit.NopEmitter(),
		logger:         observability.NopLogger(),
		tracer:         otel.Tracer("dormshare/middleware"),
		resolveTimeout: DefaultResolveTimeout,
		retryAfter:     DefaultRetryAfter,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithField("component", "authz")
	return a
}

// Authorize evaluates the Authorization header value against req
func (a *Authorizer) Authorize(ctx context.Context, header string, req Requirement) Decision {
	return a.authorize(ctx, header, req, nil)
}

func (a *Authorizer) authorize(ctx context.Context, header string, req Requirement, r *http.Request) Decision {
	start := a.now()
	ctx, span := a.tracer.Start(ctx, "Authorize", trace.WithAttributes(
		attribute.String("authz.resource", req.Resource),
		attribute.String("authz.action", req.Action),
	))
	defer span.End()

	d := a.evaluate(ctx, header, req)

	outcome := "admitted"
	if d.Admitted() {
		span.SetAttributes(attribute.Int64("authz.principal", d.Identity.PrincipalID))
		span.SetStatus(codes.Ok, "admitted")
	} else {
		outcome = "rejected"
		span.SetAttributes(attribute.String("authz.reason", string(d.Reason)))
		if d.Reason == audit.ReasonUpstreamUnavailable {
			span.RecordError(d.Err)
			span.SetStatus(codes.Error, "permission resolution failed")
		}
		a.reject(ctx, d, req, r)
	}

	a.metrics.RecordDecision(outcome, string(d.Reason), a.now().Sub(start))
	return d
}

func (a *Authorizer) evaluate(ctx context.Context, header string, req Requirement) Decision {
	d := Decision{}
	d.enter(StateUnauthenticated)

	token, ok := bearerToken(header)
	if !ok {
		return rejected(d, audit.ReasonMissingToken, auth.E(auth.KindMissingCredential, "extract", nil))
	}
	d.enter(StateTokenExtracted)

	claims, err := a.verifier.VerifyAccessToken(token)
	if err != nil {
		return rejected(d, audit.ReasonInvalidToken, asAuthError(err, "verify"))
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return rejected(d, audit.ReasonInvalidToken, auth.E(auth.KindMalformedCredential, "verify", err))
	}
	d.Identity = &auth.Identity{
		PrincipalID: principalID,
		Username:    claims.Username,
		TokenID:     claims.ID,
	}
	d.enter(StateTokenVerified)

	resolveCtx, cancel := context.WithTimeout(ctx, a.resolveTimeout)
	defer cancel()
	snapshot, err := a.resolver.Snapshot(resolveCtx, principalID)
	if err != nil {
		return rejected(d, audit.ReasonUpstreamUnavailable, auth.E(auth.KindUpstreamUnavailable, "resolve", err))
	}
	d.Identity.Roles = snapshot.Roles.Sorted()
	d.Identity.Permissions = snapshot.Permissions.Sorted()
	d.enter(StatePermissionResolved)

	if !req.Satisfied(snapshot) {
		return rejected(d, audit.ReasonPermissionDenied, auth.E(auth.KindPermissionDenied, "authorize", nil))
	}

	d.enter(StateAdmitted)
	return d
}

func rejected(d Decision, reason audit.Reason, err *auth.Error) Decision {
	d.Reason = reason
	d.Err = err
	d.enter(StateRejected)
	return d
}

func (a *Authorizer) reject(ctx context.Context, d Decision, req Requirement, r *http.Request) {
	event := &audit.Event{
		Timestamp: a.now().UTC(),
		Reason:    d.Reason,
		Resource:  req.Resource,
		Action:    req.Action,
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if d.Identity != nil {
		id := d.Identity.PrincipalID
		event.Principal = &id
		event.Username = d.Identity.Username
	}
	event.WithRequest(r)

	logger := a.logger.WithFields(event.Fields()).WithError(d.Err)
	if d.Reason == audit.ReasonUpstreamUnavailable {
		logger.Error("permission resolution failed, rejecting request")
	} else {
		logger.Info("request rejected")
	}

	if err := a.emitter.Emit(ctx, event); err != nil {
		a.logger.WithError(err).Error("failed to emit audit event")
	}
}

// Require returns middleware admitting only requests that satisfy req.
// Admitted requests carry the identity in their context.
func (a *Authorizer) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := a.authorize(r.Context(), r.Header.Get("Authorization"), req.withRequestDefaults(r), r)
			if !d.Admitted() {
				a.writeRejection(w, d)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), d.Identity)))
		})
	}
}

func (a *Authorizer) writeRejection(w http.ResponseWriter, d Decision) {
	switch d.Reason {
	case audit.ReasonMissingToken:
		w.Header().Set("WWW-Authenticate", `Bearer realm="dormshare"`)
	case audit.ReasonInvalidToken:
		w.Header().Set("WWW-Authenticate", `Bearer realm="dormshare", error="invalid_token"`)
	case audit.ReasonUpstreamUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(a.retryAfter.Seconds()))))
	}
	httputil.WriteErrorMessage(w, d.Status(), d.Err.Public())
}

// bearerToken extracts the credential of an "Authorization: Bearer" header
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func asAuthError(err error, op string) *auth.Error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr
	}
	return auth.E(auth.KindMalformedCredential, op, err)
}

// IdentityFromRequest returns the identity admitted by Require
func IdentityFromRequest(r *http.Request) (*auth.Identity, bool) {
	return auth.IdentityFromContext(r.Context())
}
