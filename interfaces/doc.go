// Package interfaces defines the domain types, collaborator contracts and
// error taxonomy shared by the registry components.
//
// # Domain Types
//
// VirtualPersona, Environment, InitializedGateway, RegisteredGateway,
// IPChallenge, RegisteredDevice, Update and AccessKey are the values held in
// the persistent store. Cross-entity links are stored as identifiers and
// resolved on demand by the owning component.
//
// # Collaborators
//
//   - Ledger: settled payments used to issue access keys
//   - SignatureOracle: per-canister secp256k1 keys used to sign and verify
//     access-key presentations
//   - RDFStore: SPARQL store receiving device descriptions
//   - BlobStore: content-addressed storage used for database snapshots
//
// # Errors
//
// Failures are returned as sentinel errors or typed errors wrapping them.
// ErrorTag renders any of them as the string tag surfaced to RPC callers,
// for example "InvalidNonce", "NotFound(persona)" or
// "AccessKey(NonceAlreadyUsed)".
package interfaces
