// Package kms is the signature oracle of the registry.
//
// SimpleSigner holds one secp256k1 key per canister, derived deterministically
// from a master seed:
//
//	seed := hkdf(sha256, masterKey, salt=keyID, info=canisterID)
//
// Public keys are handed out in 33-byte compressed form and signatures are
// 64-byte r||s over a 32-byte hash, the shape access-key verification and
// the signMessage / verifyMessage operations expect.
//
// # Usage Example
//
//	signer, err := kms.NewSimpleSigner(masterKey, kms.DefaultKeyID)
//	if err != nil {
//	    log.Fatalf("Failed to create signer: %v", err)
//	}
//
//	sig, err := signer.Sign(ctx, canister, kms.MessageHash(message))
//	pubkey, err := signer.PublicKey(ctx, canister)
//	ok := kms.VerifySignature(pubkey, kms.MessageHash(message), sig)
package kms
