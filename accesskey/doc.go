// Package accesskey issues paid access keys and verifies signed
// presentations of them.
//
// A key is bought with a ledger transfer of the configured price to the
// backend account; every transfer pays for at most one key. A holder presents
// the key by signing sha256(cbor({key, nonce})) with its canister key. Each
// successful presentation records the nonce and increments the key's counter
// until the request limit is reached. Rejected presentations change nothing.
package accesskey
