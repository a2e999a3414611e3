// Package metrics exposes glitter pipeline counters, gauges and latency
// histograms through prometheus/client_golang.
//
// Each Collector registers on its own registry so several detectors, or
// parallel tests, never collide on metric names.
package metrics
