package rpc

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/omnia-iot/omnia-backend/api"
	"github.com/omnia-iot/omnia-backend/interfaces"
)

// Authenticate resolves the caller of r. The signature header must recover to
// the address named by the principal header.
//
// Returns:
//   - the checksummed address of the caller
//   - *interfaces.MissingHeaderError or *interfaces.MalformedHeaderError for
//     absent or unparsable headers
//   - interfaces.ErrUnauthorized when the signature does not match
func Authenticate(r *http.Request, body []byte) (interfaces.PrincipalID, error) {
	claimed := strings.TrimSpace(r.Header.Get(api.PrincipalIDHeader))
	if claimed == "" {
		return "", &interfaces.MissingHeaderError{Name: strings.ToLower(api.PrincipalIDHeader)}
	}
	sigHex := strings.TrimSpace(r.Header.Get(api.PrincipalSignatureHeader))
	if sigHex == "" {
		return "", &interfaces.MissingHeaderError{Name: strings.ToLower(api.PrincipalSignatureHeader)}
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", &interfaces.MalformedHeaderError{Name: strings.ToLower(api.PrincipalSignatureHeader), Value: sigHex}
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubkey, err := crypto.SigToPub(api.RequestHash(r.URL.Path, body), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}

	caller := crypto.PubkeyToAddress(*pubkey).Hex()
	if !strings.EqualFold(caller, claimed) {
		return "", fmt.Errorf("%w: signature recovers to %s, not %s", interfaces.ErrUnauthorized, caller, claimed)
	}
	return interfaces.PrincipalID(caller), nil
}
