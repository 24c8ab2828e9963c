package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the auth core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Token metrics
	TokensIssuedTotal       *prometheus.CounterVec
	TokenVerificationsTotal *prometheus.CounterVec
	RevocationsTotal        prometheus.Counter

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	AuthzDecisionDuration *prometheus.HistogramVec

	// Permission cache metrics
	PermissionCacheLookups       *prometheus.CounterVec
	PermissionCacheInvalidations prometheus.Counter

	// Resolver metrics
	ResolverQueryDuration *prometheus.HistogramVec
	ResolverErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dormshare_tokens_issued_total",
				Help: "Total number of issued tokens",
			},
			[]string{"type"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dormshare_token_verifications_total",
				Help: "Total number of token verifications by outcome",
			},
			[]string{"type", "result"},
		),
		RevocationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dormshare_refresh_revocations_total",
				Help: "Total number of revoked refresh tokens",
			},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dormshare_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"outcome", "reason"},
		),
		AuthzDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dormshare_authz_decision_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		PermissionCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dormshare_permission_cache_lookups_total",
				Help: "Permission cache lookups by result",
			},
			[]string{"result"},
		),
		PermissionCacheInvalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dormshare_permission_cache_invalidations_total",
				Help: "Total number of permission cache invalidations",
			},
		),
		ResolverQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dormshare_resolver_query_duration_seconds",
				Help:    "Credential store query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		ResolverErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dormshare_resolver_errors_total",
				Help: "Total number of credential store query failures",
			},
			[]string{"query"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.TokensIssuedTotal,
			m.TokenVerificationsTotal,
			m.RevocationsTotal,
			m.AuthzDecisionsTotal,
			m.AuthzDecisionDuration,
			m.PermissionCacheLookups,
			m.PermissionCacheInvalidations,
			m.ResolverQueryDuration,
			m.ResolverErrorsTotal,
		)
	}

	return m
}

// RecordTokenIssued counts an issued token of the given type
func (m *Metrics) RecordTokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(tokenType).Inc()
}

// RecordTokenVerification counts a verification outcome
func (m *Metrics) RecordTokenVerification(tokenType, result string) {
	if m == nil {
		return
	}
	m.TokenVerificationsTotal.WithLabelValues(tokenType, result).Inc()
}

// RecordRevocation counts a refresh token revocation
func (m *Metrics) RecordRevocation() {
	if m == nil {
		return
	}
	m.RevocationsTotal.Inc()
}

// RecordDecision records an authorization decision and its latency
func (m *Metrics) RecordDecision(outcome, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(outcome, reason).Inc()
	m.AuthzDecisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCacheLookup records a permission cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheInvalidation counts a permission cache invalidation
func (m *Metrics) RecordCacheInvalidation() {
	if m == nil {
		return
	}
	m.PermissionCacheInvalidations.Inc()
}

// RecordResolverQuery records a credential store query
func (m *Metrics) RecordResolverQuery(query string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ResolverQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
	if err != nil {
		m.ResolverErrorsTotal.WithLabelValues(query).Inc()
	}
}

// Handler returns the Prometheus HTTP handler for the given registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
