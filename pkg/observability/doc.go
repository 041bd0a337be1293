// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes, and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(logrus.InfoLevel, observability.FormatJSON, os.Stdout)
//	logger.WithField("person_id", id).Info("person created")
//
// Request handlers pull the request-scoped logger, which carries the
// request id and, when tracing is on, the trace and span ids:
//
//	log := observability.LoggerFromContext(r.Context(), logger)
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// The Observe helpers on *Metrics accept a nil receiver.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "people",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
