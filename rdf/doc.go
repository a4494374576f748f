// Package rdf is the client side of the external triple store.
//
// Queries are forwarded verbatim and their JSON results returned untouched.
// Device registrations are mirrored into the store as quads in the graph of
// the configured database principal.
package rdf
