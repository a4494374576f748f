package rpc

import "github.com/omnia-iot/omnia-backend/interfaces"

// Argument objects of the RPC methods, by JSON shape.

type PrincipalArgs struct {
	PrincipalID interfaces.PrincipalID `json:"principal_id"`
}

type NonceArgs struct {
	Nonce string `json:"nonce"`
}

type NoncePrincipalArgs struct {
	Nonce       string                 `json:"nonce"`
	PrincipalID interfaces.PrincipalID `json:"principal_id"`
}

type CreateEnvironmentArgs struct {
	PrincipalID interfaces.PrincipalID `json:"principal_id"`
	interfaces.EnvironmentCreationInput
}

type RegisterGatewayArgs struct {
	Nonce       string                 `json:"nonce"`
	PrincipalID interfaces.PrincipalID `json:"principal_id"`
	interfaces.GatewayRegistrationInput
}

type EnvironmentArgs struct {
	EnvUID interfaces.EnvironmentUID `json:"env_uid"`
}

// PairDeviceArgs is sent by the manager (PrincipalID) for a gateway on the
// same network.
type PairDeviceArgs struct {
	Nonce              string                 `json:"nonce"`
	PrincipalID        interfaces.PrincipalID `json:"principal_id"`
	GatewayPrincipalID interfaces.PrincipalID `json:"gateway_principal_id"`
	Payload            string                 `json:"payload"`
}

type DeviceArgs struct {
	DeviceUID interfaces.DeviceUID `json:"device_uid"`
}

type RequestKeyArgs struct {
	BlockIndex uint64 `json:"block_index"`
}

type UseAccessKeyArgs struct {
	SignedRequest interfaces.SignedRequest `json:"signed_request"`
}

type AccessKeyArgs struct {
	PrincipalID  interfaces.PrincipalID  `json:"principal_id,omitempty"`
	AccessKeyUID interfaces.AccessKeyUID `json:"access_key_uid"`
}

type SignMessageArgs struct {
	Message string `json:"message"`
}

type VerifyMessageArgs struct {
	SignatureHex string `json:"signature_hex"`
	Message      string `json:"message"`
	PublicKeyHex string `json:"public_key_hex"`
}

// CanisterArgs names the key owner; empty means the caller.
type CanisterArgs struct {
	CanisterID interfaces.PrincipalID `json:"canister_id,omitempty"`
}
