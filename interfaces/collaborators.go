package interfaces

import "context"

// Ledger exposes settled transfers by block index.
type Ledger interface {
	// QueryBlock returns the block at index, or a *LedgerError.
	QueryBlock(ctx context.Context, index uint64) (*Block, error)

	// AccountOf maps a principal to its ledger account identifier.
	AccountOf(principal PrincipalID) string
}

// SignatureOracle holds one secp256k1 key per canister.
type SignatureOracle interface {
	// PublicKey returns the 33-byte compressed public key of canister.
	PublicKey(ctx context.Context, canister PrincipalID) ([]byte, error)

	// Sign signs a 32-byte hash with the key of canister and returns a
	// 64-byte r||s signature.
	Sign(ctx context.Context, canister PrincipalID, hash []byte) ([]byte, error)
}

// RDFStore is the external triple store.
type RDFStore interface {
	// Query runs a SPARQL query and returns the JSON result document.
	Query(ctx context.Context, sparql string) ([]byte, error)

	// Insert adds quads to the store.
	Insert(ctx context.Context, quads []Quad) error
}
