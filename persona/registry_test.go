package persona

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMembership struct {
	mock.Mock
}

func (m *mockMembership) AddUserIn(tx *storage.Tx, env interfaces.EnvironmentUID, user interfaces.PrincipalID) error {
	return m.Called(env, user).Error(0)
}

func (m *mockMembership) RemoveUserIn(tx *storage.Tx, env interfaces.EnvironmentUID, user interfaces.PrincipalID) error {
	return m.Called(env, user).Error(0)
}

type fixture struct {
	db         *storage.DB
	challenges *challenge.Engine
	membership *mockMembership
	registry   *Registry
	nonces     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "registry.db"), storage.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := challenge.NewEngine(db, challenge.Config{}, logger)
	membership := &mockMembership{}
	return &fixture{
		db:         db,
		challenges: engine,
		membership: membership,
		registry:   New(db, engine, membership, logger),
	}
}

func (f *fixture) nonceFrom(t *testing.T, ip string) string {
	t.Helper()
	f.nonces++
	nonce := fmt.Sprintf("nonce-%d", f.nonces)
	h := http.Header{}
	h.Set("X-Forwarded-For", ip)
	_, err := f.challenges.Ingest(nonce, h)
	require.NoError(t, err)
	return nonce
}

func (f *fixture) bindIP(t *testing.T, ip string, env interfaces.EnvironmentUID) {
	t.Helper()
	require.NoError(t, storage.NewStore[string, interfaces.EnvironmentUID](f.db, storage.RegionEnvironmentIndex).Create(ip, env))
}

func TestGetOrCreate(t *testing.T) {
	f := newFixture(t)

	exists, err := f.registry.Exists("alice")
	require.NoError(t, err)
	assert.False(t, exists)

	persona, err := f.registry.GetOrCreate(f.nonceFrom(t, "198.51.100.7"), "alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.VirtualPersona{PrincipalID: "alice", IP: "198.51.100.7"}, persona)

	exists, err = f.registry.Exists("alice")
	require.NoError(t, err)
	assert.True(t, exists)

	// A retry from a new address keeps the persona and refreshes its IP.
	persona, err = f.registry.GetOrCreate(f.nonceFrom(t, "203.0.113.4"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.4", persona.IP)

	_, err = f.registry.GetOrCreate("replayed", "alice")
	assert.ErrorIs(t, err, interfaces.ErrInvalidNonce)
}

func TestSetUserInEnvironment(t *testing.T) {
	f := newFixture(t)
	f.bindIP(t, "192.168.1.4", "env-1")
	f.bindIP(t, "192.168.7.9", "env-2")

	f.membership.On("AddUserIn", interfaces.EnvironmentUID("env-1"), interfaces.PrincipalID("alice")).Return(nil).Once()
	persona, err := f.registry.SetUserInEnvironment("alice", f.nonceFrom(t, "192.168.1.4"))
	require.NoError(t, err)
	assert.Equal(t, interfaces.EnvironmentUID("env-1"), persona.UserEnvUID)

	// Moving to another environment leaves the first one.
	f.membership.On("RemoveUserIn", interfaces.EnvironmentUID("env-1"), interfaces.PrincipalID("alice")).Return(nil).Once()
	f.membership.On("AddUserIn", interfaces.EnvironmentUID("env-2"), interfaces.PrincipalID("alice")).Return(nil).Once()
	persona, err = f.registry.SetUserInEnvironment("alice", f.nonceFrom(t, "192.168.7.9"))
	require.NoError(t, err)
	assert.Equal(t, interfaces.EnvironmentUID("env-2"), persona.UserEnvUID)

	f.membership.AssertExpectations(t)
}

func TestSetUserInEnvironmentWithoutEnvironment(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.SetUserInEnvironment("alice", f.nonceFrom(t, "198.51.100.7"))
	assert.ErrorIs(t, err, interfaces.ErrNoEnvironmentForIP)
	assert.Equal(t, "NoEnvironmentForIp", interfaces.ErrorTag(err))

	exists, err := f.registry.Exists("alice")
	require.NoError(t, err)
	assert.False(t, exists, "a failed bind does not create the persona")
}

func TestResetUserFromEnvironment(t *testing.T) {
	f := newFixture(t)
	f.bindIP(t, "192.168.1.4", "env-1")

	_, err := f.registry.ResetUserFromEnvironment("alice", f.nonceFrom(t, "192.168.1.4"))
	assert.Equal(t, "NotFound(persona)", interfaces.ErrorTag(err))

	f.membership.On("AddUserIn", interfaces.EnvironmentUID("env-1"), interfaces.PrincipalID("alice")).Return(nil)
	_, err = f.registry.SetUserInEnvironment("alice", f.nonceFrom(t, "192.168.1.4"))
	require.NoError(t, err)

	f.membership.On("RemoveUserIn", interfaces.EnvironmentUID("env-1"), interfaces.PrincipalID("alice")).
		Return(interfaces.NotFound("environment", "env-1"))
	persona, err := f.registry.ResetUserFromEnvironment("alice", f.nonceFrom(t, "192.168.1.4"))
	require.NoError(t, err, "a vanished environment does not block the reset")
	assert.Empty(t, persona.UserEnvUID)

	stored, err := f.registry.Get("alice")
	require.NoError(t, err)
	assert.Empty(t, stored.UserEnvUID)
}

func TestSetManagerEnvIn(t *testing.T) {
	f := newFixture(t)

	err := f.db.Update(func(tx *storage.Tx) error {
		return f.registry.SetManagerEnvIn(tx, "manager", "env-1")
	})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = f.registry.GetOrCreate(f.nonceFrom(t, "198.51.100.7"), "manager")
	require.NoError(t, err)
	require.NoError(t, f.db.Update(func(tx *storage.Tx) error {
		return f.registry.SetManagerEnvIn(tx, "manager", "env-1")
	}))

	persona, err := f.registry.Get("manager")
	require.NoError(t, err)
	assert.Equal(t, interfaces.EnvironmentUID("env-1"), persona.ManagerEnvUID)
}
