// Package persona keeps the VirtualPersona of every principal: the IP it was
// last verified from and the environments it belongs to as user and manager.
package persona

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/storage"
)

// Membership keeps environment user sets in step with persona bindings.
// Both calls run inside the persona transaction.
type Membership interface {
	AddUserIn(tx *storage.Tx, env interfaces.EnvironmentUID, user interfaces.PrincipalID) error
	RemoveUserIn(tx *storage.Tx, env interfaces.EnvironmentUID, user interfaces.PrincipalID) error
}

type Registry struct {
	db         *storage.DB
	personas   *storage.Store[interfaces.PrincipalID, interfaces.VirtualPersona]
	envIndex   *storage.Store[string, interfaces.EnvironmentUID]
	challenges *challenge.Engine
	membership Membership
	log        *slog.Logger
}

func New(db *storage.DB, challenges *challenge.Engine, membership Membership, log *slog.Logger) *Registry {
	return &Registry{
		db:         db,
		personas:   storage.NewStore[interfaces.PrincipalID, interfaces.VirtualPersona](db, storage.RegionPersonas),
		envIndex:   storage.NewStore[string, interfaces.EnvironmentUID](db, storage.RegionEnvironmentIndex),
		challenges: challenges,
		membership: membership,
		log:        log,
	}
}

// GetOrCreate consumes nonce and returns the persona of principal, creating
// it on first use. The persona IP is refreshed to the verified address.
func (r *Registry) GetOrCreate(nonce string, principal interfaces.PrincipalID) (interfaces.VirtualPersona, error) {
	ip, err := r.challenges.ConsumeIP(nonce)
	if err != nil {
		return interfaces.VirtualPersona{}, err
	}

	var persona interfaces.VirtualPersona
	err = r.db.Update(func(tx *storage.Tx) error {
		personas := r.personas.In(tx)
		existing, err := personas.Read(principal)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			persona = interfaces.VirtualPersona{PrincipalID: principal, IP: ip}
			r.log.Info("Created virtual persona", "principal", principal, "ip", ip)
			return personas.Create(principal, persona)
		case err != nil:
			return err
		}

		persona = existing
		if persona.IP == ip {
			return nil
		}
		persona.IP = ip
		return personas.Update(principal, persona)
	})
	return persona, err
}

// SetUserInEnvironment consumes nonce and binds principal as a user of the
// environment that owns the verified IP. A previous binding is replaced.
func (r *Registry) SetUserInEnvironment(principal interfaces.PrincipalID, nonce string) (interfaces.VirtualPersona, error) {
	ip, err := r.challenges.ConsumeIP(nonce)
	if err != nil {
		return interfaces.VirtualPersona{}, err
	}

	var persona interfaces.VirtualPersona
	err = r.db.Update(func(tx *storage.Tx) error {
		envUID, err := r.envIndex.In(tx).Read(ip)
		if errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("%w: %s", interfaces.ErrNoEnvironmentForIP, ip)
		}
		if err != nil {
			return err
		}

		personas := r.personas.In(tx)
		persona, err = personas.Read(principal)
		if errors.Is(err, interfaces.ErrNotFound) {
			persona = interfaces.VirtualPersona{PrincipalID: principal}
		} else if err != nil {
			return err
		}

		if previous := persona.UserEnvUID; previous != "" && previous != envUID {
			if err := r.removeMember(tx, previous, principal); err != nil {
				return err
			}
		}

		persona.IP = ip
		persona.UserEnvUID = envUID
		if err := personas.Put(principal, persona); err != nil {
			return err
		}
		if r.membership != nil {
			return r.membership.AddUserIn(tx, envUID, principal)
		}
		return nil
	})
	if err != nil {
		return interfaces.VirtualPersona{}, err
	}

	r.log.Info("User joined environment", "principal", principal, "env", persona.UserEnvUID)
	return persona, nil
}

// ResetUserFromEnvironment consumes nonce and clears the user binding of principal.
func (r *Registry) ResetUserFromEnvironment(principal interfaces.PrincipalID, nonce string) (interfaces.VirtualPersona, error) {
	ip, err := r.challenges.ConsumeIP(nonce)
	if err != nil {
		return interfaces.VirtualPersona{}, err
	}

	var persona interfaces.VirtualPersona
	err = r.db.Update(func(tx *storage.Tx) error {
		personas := r.personas.In(tx)
		persona, err = personas.Read(principal)
		if err != nil {
			return err
		}

		if persona.UserEnvUID != "" {
			if err := r.removeMember(tx, persona.UserEnvUID, principal); err != nil {
				return err
			}
		}

		persona.IP = ip
		persona.UserEnvUID = ""
		return personas.Update(principal, persona)
	})
	return persona, err
}

// removeMember tolerates environments that no longer exist.
func (r *Registry) removeMember(tx *storage.Tx, env interfaces.EnvironmentUID, principal interfaces.PrincipalID) error {
	if r.membership == nil {
		return nil
	}
	err := r.membership.RemoveUserIn(tx, env, principal)
	if errors.Is(err, interfaces.ErrNotFound) {
		r.log.Warn("Persona referenced a missing environment", "principal", principal, "env", env)
		return nil
	}
	return err
}

func (r *Registry) Exists(principal interfaces.PrincipalID) (bool, error) {
	return r.personas.Exists(principal)
}

func (r *Registry) Get(principal interfaces.PrincipalID) (interfaces.VirtualPersona, error) {
	return r.personas.Read(principal)
}

// SetManagerEnvIn points the manager binding of an existing persona at env.
func (r *Registry) SetManagerEnvIn(tx *storage.Tx, principal interfaces.PrincipalID, env interfaces.EnvironmentUID) error {
	personas := r.personas.In(tx)
	persona, err := personas.Read(principal)
	if err != nil {
		return err
	}
	persona.ManagerEnvUID = env
	return personas.Update(principal, persona)
}
