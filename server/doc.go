// Package server exposes a running detector over HTTP.
//
// Routes:
//
//	GET   /healthz  liveness and running state
//	GET   /stats    detector counters as JSON
//	GET   /options  current detector options
//	PATCH /options  merge a partial options update
//	GET   /metrics  Prometheus metrics
//	GET   /events   websocket stream of detection and calibration events
package server
