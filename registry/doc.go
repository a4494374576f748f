// Package registry wires the challenge engine, persona, environment, device
// and access-key components into the operations of the Omnia backend.
//
// Operations that touch several components, such as creating an environment
// and pointing its manager's persona at it, run in a single transaction here.
// Device registrations are mirrored into the RDF store after commit.
//
// # Usage Example
//
//	db, err := storage.Open("omnia.db", storage.WithLogger(log))
//	if err != nil {
//	    log.Error("failed to open database", "err", err)
//	}
//
//	reg := registry.New(db, registry.Config{
//	    BackendPrincipalID:  "backend",
//	    DatabasePrincipalID: "database",
//	}, ledger.NewMemory(), signer, rdf.NewClient(endpoint, log), log)
//
//	persona, err := reg.GetVirtualPersona(nonce, principal)
package registry
