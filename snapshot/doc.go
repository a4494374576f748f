// Package snapshot exports and restores database snapshots through
// content-addressed backends.
//
// Backends are created from location URIs:
//
//	file:///var/lib/omnia/snapshots
//	s3://ACCESS:SECRET@bucket/omnia?region=eu-central-1
//	vault://vault.internal:8200/secret/omnia
//
// Several URIs combine into a MultiBackend that stores to every available
// backend and fetches from the first that has the snapshot.
package snapshot
