package audit

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Reason explains why a request was rejected
type Reason string

const (
	ReasonMissingToken        Reason = "missing_token"
	ReasonInvalidToken        Reason = "invalid_token"
	ReasonPermissionDenied    Reason = "permission_denied"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
)

// Event describes a rejected request
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Principal *int64    `json:"principal,omitempty"`
	Username  string    `json:"username,omitempty"`
	Reason    Reason    `json:"reason"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	RequestID string    `json:"request_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Fields returns the event as structured log fields
func (e *Event) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"audit":    true,
		"reason":   string(e.Reason),
		"resource": e.Resource,
		"action":   e.Action,
	}
	if e.Principal != nil {
		fields["principal"] = *e.Principal
	}
	if e.Username != "" {
		fields["username"] = e.Username
	}
	if e.RequestID != "" {
		fields["request_id"] = e.RequestID
	}
	if e.IPAddress != "" {
		fields["ip_address"] = e.IPAddress
	}
	if e.UserAgent != "" {
		fields["user_agent"] = e.UserAgent
	}
	return fields
}

// WithRequest fills client details from r
func (e *Event) WithRequest(r *http.Request) *Event {
	if r != nil {
		e.IPAddress = ClientIP(r)
		e.UserAgent = r.UserAgent()
	}
	return e
}

// ClientIP extracts the client IP, preferring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
