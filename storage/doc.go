// Package storage is the typed, indexed store over stable storage.
//
// Every entity lives in its own region, a bbolt bucket identified by a small
// integer label. Store[K, V] gives each region uniform CRUD semantics:
//
//   - Create fails with AlreadyExists when the key is present
//   - Read and Update fail with NotFound when the key is absent
//   - Delete returns the removed value or NotFound
//   - Range visits entries in key order
//
// Operations on a Store run in their own transaction. Components that must
// write several regions atomically open one with DB.Update and use
// Store.In(tx) views.
//
// Values are CBOR envelopes (see package codec). The first byte of a value
// identifies its encoding, and the layout version kept in the meta bucket
// drives the migrations run by Open.
package storage
