// Package ingress serves the plain HTTP entry points of the registry.
//
// POST /ip-challenge binds an opaque nonce to the IP the request came from,
// as seen through X-Forwarded-For and the trusted proxy headers. A later RPC
// consumes the nonce to prove the caller's network locality.
//
// POST /sparql/query forwards a SPARQL query to the triple store and returns
// its JSON result.
package ingress
