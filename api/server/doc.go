// Package server runs the registry HTTP API.
//
// The router serves the ingress routes, the RPC transport and the health
// endpoints (/livez, /readyz, /drain, /undrain), with optional pprof under
// /debug. Prometheus metrics are served on a separate listener. While
// running, the server purges expired IP challenges and exports database
// snapshots on the configured intervals.
package server
