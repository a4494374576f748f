// Package rpc binds the registry operations to POST /rpc/{method}.
//
// Every call is signed: X-Principal-Signature holds a recoverable secp256k1
// signature over sha256(path || body), and the recovered address must equal
// X-Principal-Id. That address is the caller principal. Methods acting on
// behalf of a principal named in the arguments are reserved to the configured
// backend principal.
//
// Results are wrapped as {"ok": ...}; failures as {"err": "<tag>"} with a
// status derived from the tag (400, 401, 404, 409, 429 or 500).
package rpc
