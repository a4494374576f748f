package api

import (
	"crypto/sha256"
	"encoding/json"
)

// Headers authenticating an RPC caller.
const (
	// PrincipalIDHeader carries the checksummed address of the caller.
	PrincipalIDHeader = "X-Principal-Id"

	// PrincipalSignatureHeader carries a hex encoded 65-byte secp256k1
	// signature over RequestHash of the call.
	PrincipalSignatureHeader = "X-Principal-Signature"

	// MaxBodySize is the maximum accepted request body (1MB).
	MaxBodySize = 1024 * 1024
)

// RPCResponse is the envelope of every RPC result. Exactly one field is set.
type RPCResponse struct {
	// Ok is the JSON encoded result of a successful call.
	Ok json.RawMessage `json:"ok,omitempty"`

	// Err is the error tag of a failed call, e.g. "NotFound(persona)".
	Err string `json:"err,omitempty"`
}

// ChallengeRequest is the body of POST /ip-challenge.
type ChallengeRequest struct {
	Nonce string `json:"nonce"`
}

// RequestHash is the digest a caller signs: sha256(path || body).
func RequestHash(path string, body []byte) []byte {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write(body)
	return h.Sum(nil)
}
