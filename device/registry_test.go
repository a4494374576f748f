package device

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/environment"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db           *storage.DB
	challenges   *challenge.Engine
	environments *environment.Registry
	devices      *Registry
	nonces       int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "registry.db"), storage.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := challenge.NewEngine(db, challenge.Config{ProxyIP: netip.MustParseAddr("3.70.56.192")}, logger)
	environments := environment.New(db, engine, environment.Config{}, logger)
	devices := New(db, engine, environments, Config{}, logger)

	uids := 0
	devices.newUID = func() string {
		uids++
		return fmt.Sprintf("device-%d", uids)
	}
	return &fixture{db: db, challenges: engine, environments: environments, devices: devices}
}

func (f *fixture) nonce(t *testing.T, kv ...string) string {
	t.Helper()
	f.nonces++
	nonce := fmt.Sprintf("nonce-%d", f.nonces)
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	_, err := f.challenges.Ingest(nonce, h)
	require.NoError(t, err)
	return nonce
}

func (f *fixture) direct(t *testing.T, ip string) string {
	return f.nonce(t, "X-Forwarded-For", ip)
}

// registerGateway walks gateway through initialization and registration in
// a fresh environment managed by "manager".
func (f *fixture) registerGateway(t *testing.T, principal interfaces.PrincipalID, initNonce string, ip string) interfaces.RegisteredGateway {
	t.Helper()
	var env interfaces.Environment
	require.NoError(t, f.db.Update(func(tx *storage.Tx) error {
		var err error
		env, err = f.environments.CreateEnvironmentIn(tx, "manager", interfaces.EnvironmentCreationInput{EnvName: "home"})
		return err
	}))

	_, err := f.environments.InitGatewayByIP(initNonce, principal)
	require.NoError(t, err)
	gw, err := f.environments.RegisterGatewayInEnvironment(f.direct(t, ip), "manager",
		interfaces.GatewayRegistrationInput{EnvUID: env.EnvUID, GatewayName: "hub"})
	require.NoError(t, err)
	return gw
}

func TestPairingMailbox(t *testing.T) {
	f := newFixture(t)
	f.registerGateway(t, "gw-1", f.direct(t, "192.168.1.4"), "192.168.1.4")

	update, err := f.devices.GetGatewayUpdates("gw-1")
	require.NoError(t, err)
	assert.Nil(t, update)

	require.NoError(t, f.devices.PairNewDeviceOnGateway(f.direct(t, "192.168.1.4"), "manager", "gw-1", "first"))
	require.NoError(t, f.devices.PairNewDeviceOnGateway(f.direct(t, "192.168.1.4"), "manager", "gw-1", "second"))

	update, err = f.devices.GetGatewayUpdates("gw-1")
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, interfaces.Update{
		VirtualPersonaPrincipalID: "manager",
		VirtualPersonaIP:          "192.168.1.4",
		Command:                   interfaces.PairCommand,
		Payload:                   "second",
	}, *update)

	update, err = f.devices.GetGatewayUpdates("gw-1")
	require.NoError(t, err)
	assert.Nil(t, update, "polling empties the mailbox")
}

func TestPairingRequiresSameNetwork(t *testing.T) {
	f := newFixture(t)
	f.registerGateway(t, "gw-1", f.direct(t, "192.168.1.4"), "192.168.1.4")

	err := f.devices.PairNewDeviceOnGateway(f.direct(t, "203.0.113.9"), "manager", "gw-1", "")
	assert.ErrorIs(t, err, interfaces.ErrCrossNetwork)

	err = f.devices.PairNewDeviceOnGateway(f.direct(t, "192.168.1.4"), "manager", "gw-unknown", "")
	assert.ErrorIs(t, err, interfaces.ErrGatewayNotRegistered)

	update, err := f.devices.GetGatewayUpdates("gw-1")
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestRegisterDeviceOnDirectGateway(t *testing.T) {
	f := newFixture(t)
	f.registerGateway(t, "gw-1", f.direct(t, "192.168.1.4"), "192.168.1.4")

	device, err := f.devices.RegisterDeviceOnGateway(f.direct(t, "192.168.1.4"), "gw-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.DeviceUID("device-1"), device.DeviceUID)
	assert.Equal(t, "https://192.168.1.4/device-1", device.DeviceURL)
	assert.Empty(t, device.RequiredHeaders)

	stored, err := f.devices.GetDevice("device-1")
	require.NoError(t, err)
	assert.Equal(t, device, stored)

	uids, err := f.devices.GetRegisteredDevicesOnGateway("gw-1")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.DeviceUID{"device-1"}, uids)
}

func TestRegisterDeviceOnProxiedGateway(t *testing.T) {
	f := newFixture(t)
	initNonce := f.nonce(t, "X-Forwarded-For", "3.70.56.192", "X-Proxied-For", "10.0.0.5", "X-Peer-Id", "peer-7")
	gw := f.registerGateway(t, "gw-1", initNonce, "10.0.0.5")
	require.True(t, gw.IsProxied())

	device, err := f.devices.RegisterDeviceOnGateway(f.direct(t, "10.0.0.5"), "gw-1")
	require.NoError(t, err)
	assert.Equal(t, environment.DefaultProxyHost+"/device-1", device.DeviceURL)
	assert.Equal(t, []interfaces.Header{
		{Name: HeaderForwardToPeer, Value: "peer-7"},
		{Name: HeaderForwardToPort, Value: DefaultWoTPort},
	}, device.RequiredHeaders)
}

func TestRegisterDeviceFailures(t *testing.T) {
	f := newFixture(t)
	f.registerGateway(t, "gw-1", f.direct(t, "192.168.1.4"), "192.168.1.4")

	_, err := f.devices.RegisterDeviceOnGateway(f.direct(t, "203.0.113.9"), "gw-1")
	assert.ErrorIs(t, err, interfaces.ErrCrossNetwork)

	_, err = f.devices.RegisterDeviceOnGateway(f.direct(t, "192.168.1.4"), "gw-2")
	assert.ErrorIs(t, err, interfaces.ErrGatewayNotRegistered)

	_, err = f.devices.RegisterDeviceOnGateway("stale", "gw-1")
	assert.ErrorIs(t, err, interfaces.ErrInvalidNonce)

	_, err = f.devices.GetRegisteredDevicesOnGateway("gw-2")
	assert.ErrorIs(t, err, interfaces.ErrGatewayNotRegistered)

	devices, err := f.devices.Devices()
	require.NoError(t, err)
	assert.Empty(t, devices)
}
