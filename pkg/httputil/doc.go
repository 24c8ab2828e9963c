// Package httputil provides JSON request and response helpers and the common
// HTTP middleware of the dormshare server.
//
// Error bodies are always {"error": "<message>"}:
//
//	var req assignRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	httputil.WriteSuccess(w, view)
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
