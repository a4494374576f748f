// Package environment implements the gateway lifecycle: a gateway is
// initialized from its LAN, registered into an Environment by the manager of
// that Environment, and from then on receives pairing requests and devices.
package environment

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/metrics"
	"github.com/omnia-iot/omnia-backend/storage"
)

// DefaultProxyHost is the public URL of proxied gateways.
const DefaultProxyHost = "https://proxy.omnia-iot.com"

type Config struct {
	// ProxyHost is used as gateway_url for gateways reached through the proxy.
	ProxyHost string
}

type Registry struct {
	db           *storage.DB
	environments *storage.Store[interfaces.EnvironmentUID, interfaces.Environment]
	envIndex     *storage.Store[string, interfaces.EnvironmentUID]
	initialized  *storage.Store[string, interfaces.InitializedGateway]
	registered   *storage.Store[interfaces.PrincipalID, interfaces.RegisteredGateway]
	personas     *storage.Store[interfaces.PrincipalID, interfaces.VirtualPersona]
	challenges   *challenge.Engine
	cfg          Config
	newUID       func() string
	log          *slog.Logger
}

func New(db *storage.DB, challenges *challenge.Engine, cfg Config, log *slog.Logger) *Registry {
	if cfg.ProxyHost == "" {
		cfg.ProxyHost = DefaultProxyHost
	}
	return &Registry{
		db:           db,
		environments: storage.NewStore[interfaces.EnvironmentUID, interfaces.Environment](db, storage.RegionEnvironments),
		envIndex:     storage.NewStore[string, interfaces.EnvironmentUID](db, storage.RegionEnvironmentIndex),
		initialized:  storage.NewStore[string, interfaces.InitializedGateway](db, storage.RegionInitializedGateways),
		registered:   storage.NewStore[interfaces.PrincipalID, interfaces.RegisteredGateway](db, storage.RegionRegisteredGateways),
		personas:     storage.NewStore[interfaces.PrincipalID, interfaces.VirtualPersona](db, storage.RegionPersonas),
		challenges:   challenges,
		cfg:          cfg,
		newUID:       func() string { return uuid.NewString() },
		log:          log,
	}
}

// InitGatewayByIP consumes nonce and records principal as the gateway
// waiting on the verified IP. The first gateway to initialize an IP keeps
// the record; a principal that is already registered writes nothing. The
// caller's principal is returned in every case.
func (r *Registry) InitGatewayByIP(nonce string, principal interfaces.PrincipalID) (interfaces.PrincipalID, error) {
	value, err := r.challenges.Consume(nonce)
	if err != nil {
		return "", err
	}

	written := false
	err = r.db.Update(func(tx *storage.Tx) error {
		registered, err := r.registered.In(tx).Exists(principal)
		if err != nil || registered {
			return err
		}

		initialized := r.initialized.In(tx)
		exists, err := initialized.Exists(value.RequesterIP)
		if err != nil || exists {
			return err
		}
		gw := interfaces.InitializedGateway{PrincipalID: principal}
		if value.IsProxied {
			gw.ProxiedGatewayUID = value.ProxiedGatewayUID
		}
		written = true
		return initialized.Create(value.RequesterIP, gw)
	})
	if err != nil {
		return "", err
	}

	r.log.Info("Gateway initialized",
		"principal", principal,
		"ip", value.RequesterIP,
		"proxied", value.IsProxied,
		"recorded", written)
	return principal, nil
}

// GetInitializedGateways consumes nonce and lists the gateways waiting for
// registration on the verified IP.
func (r *Registry) GetInitializedGateways(nonce string) ([]interfaces.InitializedGateway, error) {
	ip, err := r.challenges.ConsumeIP(nonce)
	if err != nil {
		return nil, err
	}
	gw, err := r.initialized.Read(ip)
	if errors.Is(err, interfaces.ErrNotFound) {
		return []interfaces.InitializedGateway{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []interfaces.InitializedGateway{gw}, nil
}

// CreateEnvironmentIn allocates and stores a new environment for manager.
func (r *Registry) CreateEnvironmentIn(tx *storage.Tx, manager interfaces.PrincipalID, input interfaces.EnvironmentCreationInput) (interfaces.Environment, error) {
	env := interfaces.Environment{
		EnvUID:             interfaces.EnvironmentUID(r.newUID()),
		Name:               input.EnvName,
		ManagerPrincipalID: manager,
		Users:              []interfaces.PrincipalID{},
		Gateways:           []interfaces.PrincipalID{},
	}
	if err := r.environments.In(tx).Create(env.EnvUID, env); err != nil {
		return interfaces.Environment{}, err
	}
	return env, nil
}

// RegisterGatewayInEnvironment consumes nonce and moves the gateway
// initialized on the verified IP into the environment of input. The
// initialized record, the registered gateway, the reverse-index entry and the
// environment gateway set change in one transaction.
func (r *Registry) RegisterGatewayInEnvironment(nonce string, manager interfaces.PrincipalID, input interfaces.GatewayRegistrationInput) (interfaces.RegisteredGateway, error) {
	ip, err := r.challenges.ConsumeIP(nonce)
	if err != nil {
		return interfaces.RegisteredGateway{}, err
	}

	var gw interfaces.RegisteredGateway
	err = r.db.Update(func(tx *storage.Tx) error {
		initialized, err := r.initialized.In(tx).Delete(ip)
		if errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("%w: %s", interfaces.ErrGatewayNotInitialized, ip)
		}
		if err != nil {
			return err
		}

		environments := r.environments.In(tx)
		env, err := environments.Read(input.EnvUID)
		if err != nil {
			return err
		}
		if env.ManagerPrincipalID != manager {
			return fmt.Errorf("%w: %s does not manage environment %s", interfaces.ErrUnauthorized, manager, env.EnvUID)
		}

		gw = interfaces.RegisteredGateway{
			PrincipalID:       initialized.PrincipalID,
			Name:              input.GatewayName,
			IP:                ip,
			URL:               "https://" + ip,
			ProxiedGatewayUID: initialized.ProxiedGatewayUID,
			EnvUID:            env.EnvUID,
			Devices:           []interfaces.DeviceUID{},
		}
		if gw.IsProxied() {
			gw.URL = r.cfg.ProxyHost
		}
		if err := r.registered.In(tx).Create(gw.PrincipalID, gw); err != nil {
			return err
		}

		if err := r.bindIP(tx, ip, env.EnvUID); err != nil {
			return err
		}

		env.Gateways, _ = interfaces.AddMember(env.Gateways, gw.PrincipalID)
		return environments.Update(env.EnvUID, env)
	})
	if err != nil {
		return interfaces.RegisteredGateway{}, err
	}

	metrics.GatewaysRegistered.Inc()
	r.log.Info("Gateway registered",
		"principal", gw.PrincipalID,
		"env", gw.EnvUID,
		"url", gw.URL)
	return gw, nil
}

// bindIP points the reverse index at env. Binding the same environment
// twice is a no-op.
func (r *Registry) bindIP(tx *storage.Tx, ip string, env interfaces.EnvironmentUID) error {
	index := r.envIndex.In(tx)
	bound, err := index.Read(ip)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return index.Create(ip, env)
	case err != nil:
		return err
	case bound != env:
		return fmt.Errorf("%w: %s is bound to %s", interfaces.ErrIPBoundToOtherEnvironment, ip, bound)
	}
	return nil
}

// GetRegisteredGatewaysInEnvironment resolves the gateway set of envUID.
func (r *Registry) GetRegisteredGatewaysInEnvironment(envUID interfaces.EnvironmentUID) ([]interfaces.RegisteredGateway, error) {
	gateways := []interfaces.RegisteredGateway{}
	err := r.db.View(func(tx *storage.Tx) error {
		env, err := r.environments.In(tx).Read(envUID)
		if err != nil {
			return err
		}
		registered := r.registered.In(tx)
		for _, principal := range env.Gateways {
			gw, err := registered.Read(principal)
			if errors.Is(err, interfaces.ErrNotFound) {
				r.log.Warn("Environment lists an unknown gateway", "env", envUID, "gateway", principal)
				continue
			}
			if err != nil {
				return err
			}
			gateways = append(gateways, gw)
		}
		return nil
	})
	return gateways, err
}

func (r *Registry) GetEnvironment(envUID interfaces.EnvironmentUID) (interfaces.Environment, error) {
	return r.environments.Read(envUID)
}

func (r *Registry) GetRegisteredGateway(principal interfaces.PrincipalID) (interfaces.RegisteredGateway, error) {
	return r.registered.Read(principal)
}

func (r *Registry) IsGatewayRegistered(principal interfaces.PrincipalID) (bool, error) {
	return r.registered.Exists(principal)
}

// RegisteredGatewayIn reads a registered gateway inside tx. An unknown
// principal yields ErrGatewayNotRegistered.
func (r *Registry) RegisteredGatewayIn(tx *storage.Tx, principal interfaces.PrincipalID) (interfaces.RegisteredGateway, error) {
	gw, err := r.registered.In(tx).Read(principal)
	if errors.Is(err, interfaces.ErrNotFound) {
		return gw, fmt.Errorf("%w: %s", interfaces.ErrGatewayNotRegistered, principal)
	}
	return gw, err
}

// AddDeviceIn appends device to the device set of a registered gateway.
func (r *Registry) AddDeviceIn(tx *storage.Tx, principal interfaces.PrincipalID, device interfaces.DeviceUID) error {
	gw, err := r.RegisteredGatewayIn(tx, principal)
	if err != nil {
		return err
	}
	gw.Devices, _ = interfaces.AddMember(gw.Devices, device)
	return r.registered.In(tx).Update(principal, gw)
}

// AddUserIn adds user to the user set of env.
func (r *Registry) AddUserIn(tx *storage.Tx, envUID interfaces.EnvironmentUID, user interfaces.PrincipalID) error {
	environments := r.environments.In(tx)
	env, err := environments.Read(envUID)
	if err != nil {
		return err
	}
	var added bool
	if env.Users, added = interfaces.AddMember(env.Users, user); !added {
		return nil
	}
	return environments.Update(envUID, env)
}

// RemoveUserIn drops user from the user set of env.
func (r *Registry) RemoveUserIn(tx *storage.Tx, envUID interfaces.EnvironmentUID, user interfaces.PrincipalID) error {
	environments := r.environments.In(tx)
	env, err := environments.Read(envUID)
	if err != nil {
		return err
	}
	var removed bool
	if env.Users, removed = interfaces.RemoveMember(env.Users, user); !removed {
		return nil
	}
	return environments.Update(envUID, env)
}
