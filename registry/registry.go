package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/omnia-iot/omnia-backend/accesskey"
	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/device"
	"github.com/omnia-iot/omnia-backend/environment"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/kms"
	"github.com/omnia-iot/omnia-backend/metrics"
	"github.com/omnia-iot/omnia-backend/persona"
	"github.com/omnia-iot/omnia-backend/ratelimit"
	"github.com/omnia-iot/omnia-backend/rdf"
	"github.com/omnia-iot/omnia-backend/storage"
)

// DefaultProxyIP is the public address of the relay proxy.
var DefaultProxyIP = netip.MustParseAddr("3.70.56.192")

type Config struct {
	BackendPrincipalID  interfaces.PrincipalID
	DatabasePrincipalID interfaces.PrincipalID
	LedgerPrincipalID   interfaces.PrincipalID

	ProxyIP   netip.Addr
	ProxyHost string

	ChallengeTTL         time.Duration
	ChallengeIngestLimit int

	AccessKeyRequestsLimit uint32
	AccessKeyPrice         uint64
	WoTPort                string

	// RDFTimeout bounds the best-effort insert that follows a device
	// registration.
	RDFTimeout time.Duration
}

// DefaultConfig returns the production constants: proxy, challenge TTL,
// access-key quota and price, and the WoT forwarding port.
func DefaultConfig() Config {
	return Config{
		ProxyIP:                DefaultProxyIP,
		ProxyHost:              environment.DefaultProxyHost,
		ChallengeTTL:           challenge.DefaultTTL,
		AccessKeyRequestsLimit: accesskey.DefaultRequestsLimit,
		AccessKeyPrice:         accesskey.DefaultPrice,
		WoTPort:                device.DefaultWoTPort,
		RDFTimeout:             10 * time.Second,
	}
}

// SnapshotExporter writes a database snapshot to durable storage.
type SnapshotExporter interface {
	Export(ctx context.Context) (interfaces.ContentID, error)
}

// Registry composes the components into the operations exposed over RPC and
// HTTP ingress. Flows spanning several components live here.
type Registry struct {
	cfg Config
	db  *storage.DB
	log *slog.Logger

	Challenges   *challenge.Engine
	Personas     *persona.Registry
	Environments *environment.Registry
	Devices      *device.Registry
	AccessKeys   *accesskey.Engine

	oracle    interfaces.SignatureOracle
	rdf       interfaces.RDFStore
	snapshots SnapshotExporter
}

type Option func(*options)

type options struct {
	limiter   ratelimit.Limiter
	now       func() time.Time
	snapshots SnapshotExporter
}

// WithLimiter rate limits challenge ingestion per requester IP.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}

// WithNow sets the clock used by the challenge engine.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSnapshots enables the exportSnapshot operation.
func WithSnapshots(exporter SnapshotExporter) Option {
	return func(o *options) { o.snapshots = exporter }
}

func New(db *storage.DB, cfg Config, ledger interfaces.Ledger, oracle interfaces.SignatureOracle, rdfStore interfaces.RDFStore, log *slog.Logger, opts ...Option) *Registry {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.ProxyIP.IsValid() {
		cfg.ProxyIP = DefaultProxyIP
	}
	if cfg.ProxyHost == "" {
		cfg.ProxyHost = environment.DefaultProxyHost
	}
	if cfg.RDFTimeout <= 0 {
		cfg.RDFTimeout = 10 * time.Second
	}

	var challengeOpts []challenge.Option
	if o.limiter != nil {
		challengeOpts = append(challengeOpts, challenge.WithLimiter(o.limiter))
	}
	if o.now != nil {
		challengeOpts = append(challengeOpts, challenge.WithNow(o.now))
	}

	challenges := challenge.NewEngine(db, challenge.Config{
		ProxyIP:     cfg.ProxyIP,
		TTL:         cfg.ChallengeTTL,
		IngestLimit: cfg.ChallengeIngestLimit,
	}, log.With("component", "challenge"), challengeOpts...)
	environments := environment.New(db, challenges, environment.Config{ProxyHost: cfg.ProxyHost}, log.With("component", "environment"))

	return &Registry{
		cfg:          cfg,
		db:           db,
		log:          log,
		Challenges:   challenges,
		Personas:     persona.New(db, challenges, environments, log.With("component", "persona")),
		Environments: environments,
		Devices:      device.New(db, challenges, environments, device.Config{WoTPort: cfg.WoTPort}, log.With("component", "device")),
		AccessKeys: accesskey.NewEngine(db, ledger, oracle, accesskey.Config{
			BackendPrincipalID: cfg.BackendPrincipalID,
			RequestsLimit:      cfg.AccessKeyRequestsLimit,
			Price:              cfg.AccessKeyPrice,
		}, log.With("component", "accesskey")),
		oracle:    oracle,
		rdf:       rdfStore,
		snapshots: o.snapshots,
	}
}

func (r *Registry) Config() Config {
	return r.cfg
}

// CallerIsBackend reports whether caller is the configured backend principal.
func (r *Registry) CallerIsBackend(caller interfaces.PrincipalID) bool {
	return r.cfg.BackendPrincipalID != "" && caller == r.cfg.BackendPrincipalID
}

// IngestChallenge records the challenge of an /ip-challenge request.
func (r *Registry) IngestChallenge(nonce string, h http.Header) (interfaces.IPChallenge, error) {
	return r.Challenges.Ingest(nonce, h)
}

// QuerySPARQL forwards a query to the triple store.
func (r *Registry) QuerySPARQL(ctx context.Context, query string) ([]byte, error) {
	return r.rdf.Query(ctx, query)
}

func (r *Registry) CheckIfVirtualPersonaExists(principal interfaces.PrincipalID) (bool, error) {
	return r.Personas.Exists(principal)
}

func (r *Registry) GetVirtualPersona(nonce string, principal interfaces.PrincipalID) (interfaces.VirtualPersona, error) {
	return r.Personas.GetOrCreate(nonce, principal)
}

func (r *Registry) SetUserInEnvironment(principal interfaces.PrincipalID, nonce string) (interfaces.VirtualPersona, error) {
	return r.Personas.SetUserInEnvironment(principal, nonce)
}

func (r *Registry) ResetUserFromEnvironment(principal interfaces.PrincipalID, nonce string) (interfaces.VirtualPersona, error) {
	return r.Personas.ResetUserFromEnvironment(principal, nonce)
}

// CreateEnvironment allocates an environment managed by manager and points
// the manager's persona at it. The persona must already exist.
func (r *Registry) CreateEnvironment(manager interfaces.PrincipalID, input interfaces.EnvironmentCreationInput) (interfaces.Environment, error) {
	if strings.TrimSpace(input.EnvName) == "" {
		return interfaces.Environment{}, fmt.Errorf("%w: empty environment name", interfaces.ErrMalformedBody)
	}

	var env interfaces.Environment
	err := r.db.Update(func(tx *storage.Tx) error {
		var err error
		env, err = r.Environments.CreateEnvironmentIn(tx, manager, input)
		if err != nil {
			return err
		}
		return r.Personas.SetManagerEnvIn(tx, manager, env.EnvUID)
	})
	if err != nil {
		return interfaces.Environment{}, err
	}

	r.log.Info("Environment created", "env", env.EnvUID, "name", env.Name, "manager", manager)
	return env, nil
}

func (r *Registry) InitGatewayByIP(nonce string, principal interfaces.PrincipalID) (interfaces.PrincipalID, error) {
	return r.Environments.InitGatewayByIP(nonce, principal)
}

func (r *Registry) GetInitializedGateways(nonce string) ([]interfaces.InitializedGateway, error) {
	return r.Environments.GetInitializedGateways(nonce)
}

func (r *Registry) RegisterGatewayInEnvironment(nonce string, manager interfaces.PrincipalID, input interfaces.GatewayRegistrationInput) (interfaces.RegisteredGateway, error) {
	return r.Environments.RegisterGatewayInEnvironment(nonce, manager, input)
}

func (r *Registry) GetRegisteredGatewaysInEnvironment(envUID interfaces.EnvironmentUID) ([]interfaces.RegisteredGateway, error) {
	return r.Environments.GetRegisteredGatewaysInEnvironment(envUID)
}

func (r *Registry) IsGatewayRegistered(principal interfaces.PrincipalID) (bool, error) {
	return r.Environments.IsGatewayRegistered(principal)
}

func (r *Registry) GetEnvironment(envUID interfaces.EnvironmentUID) (interfaces.Environment, error) {
	return r.Environments.GetEnvironment(envUID)
}

func (r *Registry) GetGatewayUpdates(gateway interfaces.PrincipalID) (*interfaces.Update, error) {
	return r.Devices.GetGatewayUpdates(gateway)
}

func (r *Registry) PairNewDeviceOnGateway(nonce string, manager, gateway interfaces.PrincipalID, payload string) error {
	return r.Devices.PairNewDeviceOnGateway(nonce, manager, gateway, payload)
}

// RegisterDeviceOnGateway registers a device and mirrors it into the triple
// store. The mirror is best effort; resyncDevices repairs missed inserts.
func (r *Registry) RegisterDeviceOnGateway(ctx context.Context, nonce string, gateway interfaces.PrincipalID) (interfaces.RegisteredDevice, error) {
	registered, err := r.Devices.RegisterDeviceOnGateway(nonce, gateway)
	if err != nil {
		return interfaces.RegisteredDevice{}, err
	}
	r.mirrorDevice(ctx, registered)
	return registered, nil
}

func (r *Registry) mirrorDevice(ctx context.Context, d interfaces.RegisteredDevice) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RDFTimeout)
	defer cancel()

	quads := rdf.DeviceQuads(d, rdf.GraphIRI(string(r.cfg.DatabasePrincipalID)))
	if err := r.rdf.Insert(ctx, quads); err != nil {
		metrics.RDFInsertFailures.Inc()
		r.log.Warn("Failed to mirror device into RDF store", "device", d.DeviceUID, "err", err)
	}
}

func (r *Registry) GetRegisteredDevicesOnGateway(gateway interfaces.PrincipalID) ([]interfaces.DeviceUID, error) {
	return r.Devices.GetRegisteredDevicesOnGateway(gateway)
}

func (r *Registry) GetDevice(uid interfaces.DeviceUID) (interfaces.RegisteredDevice, error) {
	return r.Devices.GetDevice(uid)
}

func (r *Registry) GetRequestKey(ctx context.Context, caller interfaces.PrincipalID, blockIndex uint64) (interfaces.AccessKeyUID, error) {
	return r.AccessKeys.GetRequestKey(ctx, caller, blockIndex)
}

func (r *Registry) UseAccessKey(ctx context.Context, req interfaces.SignedRequest) (interfaces.AccessKey, error) {
	if err := req.Validate(); err != nil {
		return interfaces.AccessKey{}, fmt.Errorf("%w: %v", interfaces.ErrMalformedBody, err)
	}
	return r.AccessKeys.VerifySignedRequest(ctx, req)
}

func (r *Registry) RevokeAccessKey(owner interfaces.PrincipalID, uid interfaces.AccessKeyUID) error {
	return r.AccessKeys.RevokeAccessKey(owner, uid)
}

func (r *Registry) GetAccessKey(uid interfaces.AccessKeyUID) (interfaces.AccessKey, error) {
	return r.AccessKeys.GetAccessKey(uid)
}

// SignMessage signs sha256(message) with the key of caller and returns the
// hex encoded 64-byte signature.
func (r *Registry) SignMessage(ctx context.Context, caller interfaces.PrincipalID, message string) (string, error) {
	sig, err := r.oracle.Sign(ctx, caller, kms.MessageHash([]byte(message)))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// VerifyMessage checks a hex signature of sha256(message) against a hex
// encoded public key.
func (r *Registry) VerifyMessage(signatureHex, message, publicKeyHex string) (bool, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return false, fmt.Errorf("%w: signature is not hex", interfaces.ErrMalformedBody)
	}
	pubkey, err := hex.DecodeString(strings.TrimPrefix(publicKeyHex, "0x"))
	if err != nil {
		return false, fmt.Errorf("%w: public key is not hex", interfaces.ErrMalformedBody)
	}
	return kms.VerifySignature(pubkey, kms.MessageHash([]byte(message)), sig), nil
}

// GetCanisterPublicKey returns the hex encoded compressed key of canister.
func (r *Registry) GetCanisterPublicKey(ctx context.Context, canister interfaces.PrincipalID) (string, error) {
	pubkey, err := r.oracle.PublicKey(ctx, canister)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pubkey), nil
}

func (r *Registry) ReconcileIndices() (environment.ReconcileReport, error) {
	return r.Environments.Reconcile()
}

// ResyncDevices re-inserts every registered device into the triple store and
// returns how many were written.
func (r *Registry) ResyncDevices(ctx context.Context) (int, error) {
	devices, err := r.Devices.Devices()
	if err != nil {
		return 0, err
	}

	graph := rdf.GraphIRI(string(r.cfg.DatabasePrincipalID))
	written := 0
	var errs []error
	for _, d := range devices {
		if err := r.rdf.Insert(ctx, rdf.DeviceQuads(d, graph)); err != nil {
			metrics.RDFInsertFailures.Inc()
			errs = append(errs, fmt.Errorf("device %s: %w", d.DeviceUID, err))
			continue
		}
		written++
	}

	r.log.Info("Devices resynced", "written", written, "failed", len(errs))
	return written, errors.Join(errs...)
}

// ExportSnapshot stores a snapshot of the database and returns its id.
func (r *Registry) ExportSnapshot(ctx context.Context) (interfaces.ContentID, error) {
	if r.snapshots == nil {
		return interfaces.ContentID{}, fmt.Errorf("%w: no snapshot backend configured", interfaces.ErrBackendUnavailable)
	}
	return r.snapshots.Export(ctx)
}
