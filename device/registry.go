package device

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

const (
	// DefaultWoTPort is the port the proxy forwards device requests to.
	DefaultWoTPort = "8080"

	HeaderForwardToPeer = "X-Forward-To-Peer"
	HeaderForwardToPort = "X-Forward-To-Port"
)

// Gateways resolves and updates registered gateways inside a transaction.
type Gateways interface {
	RegisteredGatewayIn(tx *storage.Tx, principal interfaces.PrincipalID) (interfaces.RegisteredGateway, error)
	AddDeviceIn(tx *storage.Tx, principal interfaces.PrincipalID, device interfaces.DeviceUID) error
}

type Config struct {
	WoTPort string
}

type Registry struct {
	db         *storage.DB
	devices    *storage.Store[interfaces.DeviceUID, interfaces.RegisteredDevice]
	mailbox    *storage.Store[interfaces.PrincipalID, interfaces.Update]
	gateways   Gateways
	challenges *challenge.Engine
	cfg        Config
	newUID     func() string
	log        *slog.Logger
}

func New(db *storage.DB, challenges *challenge.Engine, gateways Gateways, cfg Config, log *slog.Logger) *Registry {
	if cfg.WoTPort == "" {
		cfg.WoTPort = DefaultWoTPort
	}
	return &Registry{
		db:         db,
		devices:    storage.NewStore[interfaces.DeviceUID, interfaces.RegisteredDevice](db, storage.RegionRegisteredDevices),
		mailbox:    storage.NewStore[interfaces.PrincipalID, interfaces.Update](db, storage.RegionPairingMailbox),
		gateways:   gateways,
		challenges: challenges,
		cfg:        cfg,
		newUID:     func() string { return uuid.NewString() },
		log:        log,
	}
}

// sameNetwork resolves gateway and checks the caller shares its IP.
func (r *Registry) sameNetwork(tx *storage.Tx, gateway interfaces.PrincipalID, ip string) (interfaces.RegisteredGateway, error) {
	gw, err := r.gateways.RegisteredGatewayIn(tx, gateway)
	if err != nil {
		return gw, err
	}
	if gw.IP != ip {
		return gw, fmt.Errorf("%w: caller %s, gateway %s", interfaces.ErrCrossNetwork, ip, gw.IP)
	}
	return gw, nil
}

// PairNewDeviceOnGateway consumes nonce and leaves a pairing request from
// manager in the mailbox of gateway, replacing any unread one.
func (r *Registry) PairNewDeviceOnGateway(nonce string, manager, gateway interfaces.PrincipalID, payload string) error {
	ip, err := r.challenges.ConsumeIP(nonce)
	if err != nil {
		return err
	}

	err = r.db.Update(func(tx *storage.Tx) error {
		if _, err := r.sameNetwork(tx, gateway, ip); err != nil {
			return err
		}
		return r.mailbox.In(tx).Put(gateway, interfaces.Update{
			VirtualPersonaPrincipalID: manager,
			VirtualPersonaIP:          ip,
			Command:                   interfaces.PairCommand,
			Payload:                   payload,
		})
	})
	if err != nil {
		return err
	}

	r.log.Info("Pairing request queued", "gateway", gateway, "manager", manager)
	return nil
}

// GetGatewayUpdates removes and returns the pending update of gateway, or
// nil when the mailbox is empty.
func (r *Registry) GetGatewayUpdates(gateway interfaces.PrincipalID) (*interfaces.Update, error) {
	update, err := r.mailbox.Delete(gateway)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &update, nil
}

// RegisterDeviceOnGateway consumes nonce and registers a new device behind
// gateway. Devices of proxied gateways carry the headers the proxy needs to
// route requests to them.
func (r *Registry) RegisterDeviceOnGateway(nonce string, gateway interfaces.PrincipalID) (interfaces.RegisteredDevice, error) {
	ip, err := r.challenges.ConsumeIP(nonce)
	if err != nil {
		return interfaces.RegisteredDevice{}, err
	}

	var device interfaces.RegisteredDevice
	err = r.db.Update(func(tx *storage.Tx) error {
		gw, err := r.sameNetwork(tx, gateway, ip)
		if err != nil {
			return err
		}

		uid := interfaces.DeviceUID(r.newUID())
		device = interfaces.RegisteredDevice{
			DeviceUID:          uid,
			GatewayPrincipalID: gateway,
			EnvUID:             gw.EnvUID,
			DeviceURL:          gw.URL + "/" + string(uid),
		}
		if gw.IsProxied() {
			device.RequiredHeaders = []interfaces.Header{
				{Name: HeaderForwardToPeer, Value: gw.ProxiedGatewayUID},
				{Name: HeaderForwardToPort, Value: r.cfg.WoTPort},
			}
		}

		if err := r.devices.In(tx).Create(uid, device); err != nil {
			return err
		}
		return r.gateways.AddDeviceIn(tx, gateway, uid)
	})
	if err != nil {
		return interfaces.RegisteredDevice{}, err
	}

	metrics.DevicesRegistered.Inc()
	r.log.Info("Device registered", "device", device.DeviceUID, "gateway", gateway, "url", device.DeviceURL)
	return device, nil
}

// GetRegisteredDevicesOnGateway lists the device uids of gateway.
func (r *Registry) GetRegisteredDevicesOnGateway(gateway interfaces.PrincipalID) ([]interfaces.DeviceUID, error) {
	var uids []interfaces.DeviceUID
	err := r.db.View(func(tx *storage.Tx) error {
		gw, err := r.gateways.RegisteredGatewayIn(tx, gateway)
		if err != nil {
			return err
		}
		uids = append([]interfaces.DeviceUID{}, gw.Devices...)
		return nil
	})
	return uids, err
}

func (r *Registry) GetDevice(uid interfaces.DeviceUID) (interfaces.RegisteredDevice, error) {
	return r.devices.Read(uid)
}

// Devices returns every registered device in uid order.
func (r *Registry) Devices() ([]interfaces.RegisteredDevice, error) {
	var devices []interfaces.RegisteredDevice
	err := r.devices.Range(func(_ interfaces.DeviceUID, d interfaces.RegisteredDevice) error {
		devices = append(devices, d)
		return nil
	})
	return devices, err
}
