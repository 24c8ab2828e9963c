// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry export, health checks and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal_id", id).Warn("token verification failed")
//
// # Metrics
//
// A nil *Metrics records nothing, so components accept it unconditionally:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	http.Handle("/metrics", observability.Handler(registry))
//
// # Tracing
//
//	providers, err := observability.InitTracing(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.RegisterServer("api", server)
//	sm.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
//	sm.WaitForShutdown(ctx)
package observability
