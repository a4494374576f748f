// Package api holds the wire types and server configuration shared by the
// HTTP ingress, the RPC transport and their clients.
//
// Subpackages:
//   - ingress: POST /ip-challenge and POST /sparql/query
//   - rpc: POST /rpc/{method} with signed caller identity, plus a client
//   - server: the HTTP server composing both with health and admin routes
package api
