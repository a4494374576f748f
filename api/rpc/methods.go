package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/registry"
)

// method binds a wire name to a registry operation. backendOnly methods act
// on behalf of a principal passed as an argument and are reserved to the
// backend principal.
type method struct {
	backendOnly bool
	call        func(ctx context.Context, reg *registry.Registry, caller interfaces.PrincipalID, args json.RawMessage) (any, error)
}

func bind[A any](backendOnly bool, fn func(ctx context.Context, reg *registry.Registry, caller interfaces.PrincipalID, args A) (any, error)) method {
	return method{
		backendOnly: backendOnly,
		call: func(ctx context.Context, reg *registry.Registry, caller interfaces.PrincipalID, raw json.RawMessage) (any, error) {
			var args A
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedBody, err)
				}
			}
			return fn(ctx, reg, caller, args)
		},
	}
}

var methods = map[string]method{
	// Personas
	"checkIfVirtualPersonaExists": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a PrincipalArgs) (any, error) {
		return reg.CheckIfVirtualPersonaExists(a.PrincipalID)
	}),
	"getVirtualPersona": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a NoncePrincipalArgs) (any, error) {
		return reg.GetVirtualPersona(a.Nonce, a.PrincipalID)
	}),
	"setUserInEnvironment": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a NoncePrincipalArgs) (any, error) {
		return reg.SetUserInEnvironment(a.PrincipalID, a.Nonce)
	}),
	"resetUserFromEnvironment": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a NoncePrincipalArgs) (any, error) {
		return reg.ResetUserFromEnvironment(a.PrincipalID, a.Nonce)
	}),

	// Environments and gateways
	"createEnvironment": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a CreateEnvironmentArgs) (any, error) {
		return reg.CreateEnvironment(a.PrincipalID, a.EnvironmentCreationInput)
	}),
	"initGateway": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a NoncePrincipalArgs) (any, error) {
		return reg.InitGatewayByIP(a.Nonce, a.PrincipalID)
	}),
	"getInitializedGateways": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a NonceArgs) (any, error) {
		return reg.GetInitializedGateways(a.Nonce)
	}),
	"registerGateway": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a RegisterGatewayArgs) (any, error) {
		return reg.RegisterGatewayInEnvironment(a.Nonce, a.PrincipalID, a.GatewayRegistrationInput)
	}),
	"getRegisteredGateways": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a EnvironmentArgs) (any, error) {
		return reg.GetRegisteredGatewaysInEnvironment(a.EnvUID)
	}),
	"isGatewayRegistered": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a PrincipalArgs) (any, error) {
		return reg.IsGatewayRegistered(a.PrincipalID)
	}),
	"getEnvironment": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a EnvironmentArgs) (any, error) {
		return reg.GetEnvironment(a.EnvUID)
	}),

	// Devices and the pairing mailbox
	"getGatewayUpdates": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a PrincipalArgs) (any, error) {
		return reg.GetGatewayUpdates(a.PrincipalID)
	}),
	"pairNewDevice": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a PairDeviceArgs) (any, error) {
		return nil, reg.PairNewDeviceOnGateway(a.Nonce, a.PrincipalID, a.GatewayPrincipalID, a.Payload)
	}),
	"registerDevice": bind(true, func(ctx context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a NoncePrincipalArgs) (any, error) {
		return reg.RegisterDeviceOnGateway(ctx, a.Nonce, a.PrincipalID)
	}),
	"getRegisteredDevices": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a PrincipalArgs) (any, error) {
		return reg.GetRegisteredDevicesOnGateway(a.PrincipalID)
	}),
	"getDevice": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a DeviceArgs) (any, error) {
		return reg.GetDevice(a.DeviceUID)
	}),

	// Access keys
	"getRequestKey": bind(false, func(ctx context.Context, reg *registry.Registry, caller interfaces.PrincipalID, a RequestKeyArgs) (any, error) {
		return reg.GetRequestKey(ctx, caller, a.BlockIndex)
	}),
	"useAccessKey": bind(false, func(ctx context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a UseAccessKeyArgs) (any, error) {
		return reg.UseAccessKey(ctx, a.SignedRequest)
	}),
	"revokeAccessKey": bind(false, func(_ context.Context, reg *registry.Registry, caller interfaces.PrincipalID, a AccessKeyArgs) (any, error) {
		owner := caller
		if a.PrincipalID != "" {
			if !reg.CallerIsBackend(caller) {
				return nil, interfaces.ErrUnauthorized
			}
			owner = a.PrincipalID
		}
		return nil, reg.RevokeAccessKey(owner, a.AccessKeyUID)
	}),
	"getAccessKey": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a AccessKeyArgs) (any, error) {
		return reg.GetAccessKey(a.AccessKeyUID)
	}),

	// Message signing
	"signMessage": bind(false, func(ctx context.Context, reg *registry.Registry, caller interfaces.PrincipalID, a SignMessageArgs) (any, error) {
		return reg.SignMessage(ctx, caller, a.Message)
	}),
	"verifyMessage": bind(false, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, a VerifyMessageArgs) (any, error) {
		return reg.VerifyMessage(a.SignatureHex, a.Message, a.PublicKeyHex)
	}),
	"getCanisterPublicKey": bind(false, func(ctx context.Context, reg *registry.Registry, caller interfaces.PrincipalID, a CanisterArgs) (any, error) {
		canister := a.CanisterID
		if canister == "" {
			canister = caller
		}
		return reg.GetCanisterPublicKey(ctx, canister)
	}),

	// Administration
	"reconcileIndices": bind(true, func(_ context.Context, reg *registry.Registry, _ interfaces.PrincipalID, _ struct{}) (any, error) {
		return reg.ReconcileIndices()
	}),
	"resyncDevices": bind(true, func(ctx context.Context, reg *registry.Registry, _ interfaces.PrincipalID, _ struct{}) (any, error) {
		return reg.ResyncDevices(ctx)
	}),
	"exportSnapshot": bind(true, func(ctx context.Context, reg *registry.Registry, _ interfaces.PrincipalID, _ struct{}) (any, error) {
		id, err := reg.ExportSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	}),
}

// Methods returns the wire names of all RPC methods in sorted order.
func Methods() []string {
	return slices.Sorted(maps.Keys(methods))
}

// BackendOnly reports whether name is reserved to the backend principal.
func BackendOnly(name string) bool {
	return methods[name].backendOnly
}
