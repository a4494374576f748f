package interfaces

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// PrincipalID identifies a caller: a manager, a gateway, a user or a
// third-party application.
type PrincipalID string

// EnvironmentUID is the UUIDv4 of an Environment.
type EnvironmentUID string

// DeviceUID is the UUIDv4 of a registered device.
type DeviceUID string

// AccessKeyUID is the UUIDv4 of an access key.
type AccessKeyUID string

// Nonce is an unsigned 128-bit integer stored big-endian.
// It marshals as a decimal string.
type Nonce [16]byte

// NonceFromUint64 widens v into a Nonce.
func NonceFromUint64(v uint64) Nonce {
	var n Nonce
	new(big.Int).SetUint64(v).FillBytes(n[:])
	return n
}

// ParseNonce parses a decimal u128.
func ParseNonce(s string) (Nonce, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 128 {
		return Nonce{}, fmt.Errorf("invalid u128 nonce %q", s)
	}
	var n Nonce
	v.FillBytes(n[:])
	return n, nil
}

func (n Nonce) String() string {
	return new(big.Int).SetBytes(n[:]).String()
}

func (n Nonce) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Nonce) UnmarshalText(text []byte) error {
	parsed, err := ParseNonce(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// VirtualPersona is the per-principal record binding a caller to at most one
// environment as a user and at most one as a manager.
type VirtualPersona struct {
	PrincipalID   PrincipalID    `json:"principal_id"`
	IP            string         `json:"ip"`
	UserEnvUID    EnvironmentUID `json:"user_env_uid,omitempty"`
	ManagerEnvUID EnvironmentUID `json:"manager_env_uid,omitempty"`
}

// Environment groups the gateways of one LAN under a manager.
type Environment struct {
	EnvUID             EnvironmentUID `json:"env_uid"`
	Name               string         `json:"env_name"`
	ManagerPrincipalID PrincipalID    `json:"env_manager_principal_id"`
	Users              []PrincipalID  `json:"env_users_principals_ids"`
	Gateways           []PrincipalID  `json:"env_gateways_principals_ids"`
}

// EnvironmentCreationInput is the argument of createEnvironment.
type EnvironmentCreationInput struct {
	EnvName string `json:"env_name"`
}

// GatewayRegistrationInput is the argument of registerGateway.
type GatewayRegistrationInput struct {
	EnvUID      EnvironmentUID `json:"env_uid"`
	GatewayName string         `json:"gateway_name"`
}

// InitializedGateway is the ephemeral record created by initGateway and
// consumed by registerGateway. It is keyed by the gateway IP.
type InitializedGateway struct {
	PrincipalID       PrincipalID `json:"principal_id"`
	ProxiedGatewayUID string      `json:"proxied_gateway_uid,omitempty"`
}

// RegisteredGateway is a gateway bound to an environment.
type RegisteredGateway struct {
	PrincipalID       PrincipalID    `json:"gateway_principal_id"`
	Name              string         `json:"gateway_name"`
	IP                string         `json:"gateway_ip"`
	URL               string         `json:"gateway_url"`
	ProxiedGatewayUID string         `json:"proxied_gateway_uid,omitempty"`
	EnvUID            EnvironmentUID `json:"env_uid"`
	Devices           []DeviceUID    `json:"gw_device_uids"`
}

// IsProxied reports whether the gateway is reachable only through the proxy.
func (g RegisteredGateway) IsProxied() bool {
	return g.ProxiedGatewayUID != ""
}

// IPChallenge is the value ingested over HTTP and consumed by an RPC.
type IPChallenge struct {
	RequesterIP       string `json:"requester_ip"`
	ProxiedGatewayUID string `json:"proxied_gateway_uid,omitempty"`
	IsProxied         bool   `json:"is_proxied"`
	TimestampNanos    int64  `json:"timestamp"`
}

// IssuedAt returns the ingestion time.
func (c IPChallenge) IssuedAt() time.Time {
	return time.Unix(0, c.TimestampNanos)
}

// Header is a name/value pair the caller must send when invoking a device.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RegisteredDevice is a device attached to a registered gateway.
type RegisteredDevice struct {
	DeviceUID          DeviceUID      `json:"device_uid"`
	GatewayPrincipalID PrincipalID    `json:"gateway_principal_id"`
	EnvUID             EnvironmentUID `json:"env_uid"`
	DeviceURL          string         `json:"device_url"`
	RequiredHeaders    []Header       `json:"required_headers,omitempty"`
}

// PairCommand is the only command carried by the pairing mailbox.
const PairCommand = "pair"

// Update is the single pending message for a gateway.
type Update struct {
	VirtualPersonaPrincipalID PrincipalID `json:"virtual_persona_principal_id"`
	VirtualPersonaIP          string      `json:"virtual_persona_ip"`
	Command                   string      `json:"command"`
	Payload                   string      `json:"payload"`
}

// AccessKey is a paid, nonce-bound request budget owned by a principal.
type AccessKey struct {
	Key             AccessKeyUID `json:"key"`
	Owner           PrincipalID  `json:"owner"`
	TransactionHash string       `json:"transaction_hash"`
	Counter         uint32       `json:"counter"`
	UsedNonces      []Nonce      `json:"used_nonces"`
}

// HasUsedNonce reports whether nonce was already spent on this key.
func (k AccessKey) HasUsedNonce(nonce Nonce) bool {
	for _, used := range k.UsedNonces {
		if used == nonce {
			return true
		}
	}
	return false
}

// UniqueAccessKey is the message a third-party application signs.
type UniqueAccessKey struct {
	Key   AccessKeyUID `json:"key"`
	Nonce Nonce        `json:"nonce"`
}

// SignedRequest carries a signed UniqueAccessKey.
type SignedRequest struct {
	SignatureHex        string          `json:"signature_hex"`
	UniqueAccessKey     UniqueAccessKey `json:"unique_access_key"`
	RequesterCanisterID PrincipalID     `json:"requester_canister_id"`
}

// Validate checks the structural fields of a signed request.
func (r SignedRequest) Validate() error {
	if r.SignatureHex == "" {
		return errors.New("missing signature")
	}
	if r.UniqueAccessKey.Key == "" {
		return errors.New("missing access key")
	}
	if r.RequesterCanisterID == "" {
		return errors.New("missing requester canister id")
	}
	return nil
}

// Transfer is a value movement recorded on the ledger.
type Transfer struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Amount          uint64 `json:"amount"`
	TransactionHash string `json:"transaction_hash"`
}

// Block is a ledger block. ICP-style ledgers hold one transfer per block,
// chain-backed ledgers may hold several.
type Block struct {
	Index     uint64     `json:"index"`
	Transfers []Transfer `json:"transfers"`
}

// Quad is one RDF statement in a named graph.
type Quad struct {
	Subject   string
	Predicate string
	Object    string
	Graph     string
	// Literal marks Object as a plain literal instead of an IRI.
	Literal bool
}

// SpentTransfer records the access key issued against a ledger transfer.
type SpentTransfer struct {
	AccessKey  AccessKeyUID `json:"access_key"`
	BlockIndex uint64       `json:"block_index"`
}
