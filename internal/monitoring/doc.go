// Package monitoring exposes Prometheus metrics for the engine and poller,
// plus a small HTTP server for health, scraping and the current status.
//
// Metrics are registered on a caller-supplied registry:
//
//	reg := prometheus.NewRegistry()
//	metrics := monitoring.NewMetrics(reg)
//	eng := engine.New(src, gate, params, logger, engine.WithObserver(metrics))
//	poll := poller.New(eng, time.Second, logger, metrics)
//
// The status server is optional:
//
//	srv := monitoring.NewServer(":9108", reg, eng, logger)
//	srv.Start()
//	defer srv.Stop(ctx)
package monitoring
