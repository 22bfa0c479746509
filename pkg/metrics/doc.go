// Package metrics collects Prometheus-compatible metrics about captured
// exchanges.
//
// The package implements the Prometheus text exposition format
// (text/plain; version=0.0.4) with no external dependencies. Counters,
// gauges and histograms are safe for concurrent use and carry optional
// labels.
//
// # Usage
//
//	registry := metrics.NewRegistry()
//	capture := metrics.NewCapture(registry)
//
//	capture.Observe(&ex) // for every finished exchange
//
//	_ = registry.WriteText(os.Stdout)
//	http.Handle("/metrics", registry.Handler())
package metrics
