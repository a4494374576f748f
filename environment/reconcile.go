package environment

import (
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/storage"
)

// ReconcileReport counts the repairs made by Reconcile.
type ReconcileReport struct {
	IndexEntriesWritten int `json:"index_entries_written"`
	IndexEntriesRemoved int `json:"index_entries_removed"`
	EnvironmentsUpdated int `json:"environments_updated"`
}

// Reconcile rebuilds the derived state of environments: the IP reverse index
// and the gateway sets from the registered gateways, and the user sets from
// the personas' user environment.
func (r *Registry) Reconcile() (ReconcileReport, error) {
	var report ReconcileReport
	err := r.db.Update(func(tx *storage.Tx) error {
		byEnv := map[interfaces.EnvironmentUID][]interfaces.PrincipalID{}
		byIP := map[string]interfaces.EnvironmentUID{}
		err := r.registered.In(tx).Range(func(principal interfaces.PrincipalID, gw interfaces.RegisteredGateway) error {
			byEnv[gw.EnvUID] = append(byEnv[gw.EnvUID], principal)
			byIP[gw.IP] = gw.EnvUID
			return nil
		})
		if err != nil {
			return err
		}

		usersByEnv := map[interfaces.EnvironmentUID][]interfaces.PrincipalID{}
		err = r.personas.In(tx).Range(func(principal interfaces.PrincipalID, p interfaces.VirtualPersona) error {
			if p.UserEnvUID != "" {
				usersByEnv[p.UserEnvUID] = append(usersByEnv[p.UserEnvUID], principal)
			}
			return nil
		})
		if err != nil {
			return err
		}

		index := r.envIndex.In(tx)
		var stale []string
		err = index.Range(func(ip string, env interfaces.EnvironmentUID) error {
			want, ok := byIP[ip]
			if !ok {
				stale = append(stale, ip)
			} else if want == env {
				delete(byIP, ip)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, ip := range stale {
			if _, err := index.Delete(ip); err != nil {
				return err
			}
			report.IndexEntriesRemoved++
		}
		for ip, env := range byIP {
			if err := index.Put(ip, env); err != nil {
				return err
			}
			report.IndexEntriesWritten++
		}

		environments := r.environments.In(tx)
		var changed []interfaces.Environment
		err = environments.Range(func(_ interfaces.EnvironmentUID, env interfaces.Environment) error {
			gateways, gatewaysChanged := reconcileMembers(env.Gateways, byEnv[env.EnvUID])
			users, usersChanged := reconcileMembers(env.Users, usersByEnv[env.EnvUID])
			if gatewaysChanged || usersChanged {
				env.Gateways = gateways
				env.Users = users
				changed = append(changed, env)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, env := range changed {
			if err := environments.Update(env.EnvUID, env); err != nil {
				return err
			}
			report.EnvironmentsUpdated++
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	r.log.Info("Reconciled environment indices",
		"indexWritten", report.IndexEntriesWritten,
		"indexRemoved", report.IndexEntriesRemoved,
		"environmentsUpdated", report.EnvironmentsUpdated)
	return report, nil
}

// reconcileMembers keeps the order of current for members still present in
// source and appends the missing ones.
func reconcileMembers(current, source []interfaces.PrincipalID) ([]interfaces.PrincipalID, bool) {
	rebuilt := make([]interfaces.PrincipalID, 0, len(source))
	for _, p := range current {
		if interfaces.HasMember(source, p) {
			rebuilt, _ = interfaces.AddMember(rebuilt, p)
		}
	}
	for _, p := range source {
		rebuilt, _ = interfaces.AddMember(rebuilt, p)
	}

	if len(rebuilt) != len(current) {
		return rebuilt, true
	}
	for i := range rebuilt {
		if rebuilt[i] != current[i] {
			return rebuilt, true
		}
	}
	return current, false
}
