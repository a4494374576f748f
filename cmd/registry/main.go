package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/omnia-iot/omnia-backend/accesskey"
	"github.com/omnia-iot/omnia-backend/api/server"
	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/cmd/flags"
	"github.com/omnia-iot/omnia-backend/device"
	"github.com/omnia-iot/omnia-backend/environment"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/kms"
	"github.com/omnia-iot/omnia-backend/ledger"
	"github.com/omnia-iot/omnia-backend/netutil"
	"github.com/omnia-iot/omnia-backend/ratelimit"
	"github.com/omnia-iot/omnia-backend/rdf"
	"github.com/omnia-iot/omnia-backend/registry"
	"github.com/omnia-iot/omnia-backend/snapshot"
	"github.com/omnia-iot/omnia-backend/storage"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var (
	flagListenAddr = &cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	}
	flagDBPath = &cli.StringFlag{
		Name:  "db-path",
		Value: "registry.db",
		Usage: "path of the registry database file",
	}
	flagBackendPrincipal = &cli.StringFlag{
		Name:     "backend-principal-id",
		Required: true,
		Usage:    "principal allowed to call backend-only methods (checksummed address)",
	}
	flagDatabasePrincipal = &cli.StringFlag{
		Name:  "database-principal-id",
		Value: "omnia-database",
		Usage: "principal of this registry, names the RDF graph devices are written to",
	}
	flagLedgerPrincipal = &cli.StringFlag{
		Name:  "ledger-principal-id",
		Value: "eip155:1",
		Usage: "ledger identity; checked against the chain id when --rpc-addr is set",
	}
	flagProxyIP = &cli.StringFlag{
		Name:  "proxy-ip",
		Value: registry.DefaultProxyIP.String(),
		Usage: "IPv4 of the trusted proxy; empty resolves --proxy-host",
	}
	flagProxyHost = &cli.StringFlag{
		Name:  "proxy-host",
		Value: environment.DefaultProxyHost,
		Usage: "public URL of proxied gateways",
	}
	flagDNSServer = &cli.StringFlag{
		Name:  "dns-server",
		Value: netutil.DefaultResolver,
		Usage: "DNS server used to resolve --proxy-host",
	}
	flagChallengeTTL = &cli.DurationFlag{
		Name:  "challenge-ttl",
		Value: challenge.DefaultTTL,
		Usage: "time an IP challenge stays valid",
	}
	flagChallengeLimit = &cli.IntFlag{
		Name:  "challenge-ingest-limit",
		Value: 0,
		Usage: "IP challenges one requester may submit per minute; 0 disables the limit",
	}
	flagJanitorInterval = &cli.DurationFlag{
		Name:  "janitor-interval",
		Value: 30 * time.Second,
		Usage: "how often expired IP challenges are purged; 0 disables",
	}
	flagRedisAddr = &cli.StringFlag{
		Name:  "redis-addr",
		Value: "",
		Usage: "Redis address sharing rate limit windows between replicas; empty keeps them in memory",
	}
	flagRequestsLimit = &cli.UintFlag{
		Name:  "access-key-requests-limit",
		Value: accesskey.DefaultRequestsLimit,
		Usage: "requests granted by one access key",
	}
	flagKeyPrice = &cli.Uint64Flag{
		Name:  "access-key-price",
		Value: accesskey.DefaultPrice,
		Usage: "ledger amount an access key costs",
	}
	flagWoTPort = &cli.StringFlag{
		Name:  "wot-port",
		Value: device.DefaultWoTPort,
		Usage: "port the proxy forwards device requests to",
	}
	flagSignerSeed = &cli.StringFlag{
		Name:     "signer-seed",
		Required: true,
		EnvVars:  []string{"OMNIA_SIGNER_SEED"},
		Usage:    "hex-encoded 32-byte seed the per-canister signing keys are derived from",
	}
	flagSignerKeyID = &cli.StringFlag{
		Name:  "signer-key-id",
		Value: kms.DefaultKeyID,
		Usage: "key id mixed into key derivation",
	}
	flagRDFEndpoint = &cli.StringFlag{
		Name:  "rdf-endpoint",
		Value: "http://127.0.0.1:3030/omnia",
		Usage: "SPARQL endpoint base URL (serves /query and /update)",
	}
	flagRDFTimeout = &cli.DurationFlag{
		Name:  "rdf-timeout",
		Value: 10 * time.Second,
		Usage: "timeout of the RDF insert following a device registration",
	}
	flagSnapshotBackends = &cli.StringSliceFlag{
		Name:  "snapshot-backend",
		Usage: "snapshot location URI (file://, s3://, vault://); repeatable",
	}
	flagSnapshotInterval = &cli.DurationFlag{
		Name:  "snapshot-interval",
		Value: 0,
		Usage: "how often a database snapshot is exported; 0 disables",
	}
	flagRestoreSnapshot = &cli.StringFlag{
		Name:  "restore-snapshot",
		Usage: "content id of a snapshot to restore into --db-path before starting",
	}
	flagAppendRemoteAddr = &cli.BoolFlag{
		Name:  "append-remote-addr",
		Value: false,
		Usage: "append the TCP peer to X-Forwarded-For; only without a load balancer",
	}
)

func main() {
	app := &cli.App{
		Name:  "registry",
		Usage: "Serve the Omnia IoT registry",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flagDBPath,
			flagBackendPrincipal,
			flagDatabasePrincipal,
			flagLedgerPrincipal,
			flagProxyIP,
			flagProxyHost,
			flagDNSServer,
			flagChallengeTTL,
			flagChallengeLimit,
			flagJanitorInterval,
			flagRedisAddr,
			flagRequestsLimit,
			flagKeyPrice,
			flagWoTPort,
			flagSignerSeed,
			flagSignerKeyID,
			flags.RpcAddrFlag,
			flagRDFEndpoint,
			flagRDFTimeout,
			flagSnapshotBackends,
			flagSnapshotInterval,
			flagRestoreSnapshot,
			flagAppendRemoteAddr,
			flags.LogServiceFlagFn("omnia-registry"),
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx := cCtx.Context

	cfg, err := registryConfig(cCtx, logger)
	if err != nil {
		return err
	}

	seed, err := hex.DecodeString(cCtx.String(flagSignerSeed.Name))
	if err != nil || len(seed) != 32 {
		logger.Error("Invalid signer-seed - must be 64 hex chars (32 bytes)", "err", err)
		return fmt.Errorf("invalid signer-seed: %v", err)
	}
	signer, err := kms.NewSimpleSigner(seed, cCtx.String(flagSignerKeyID.Name))
	if err != nil {
		logger.Error("Failed to create signer", "err", err)
		return err
	}

	ledgerImpl, err := setupLedger(ctx, cCtx, logger)
	if err != nil {
		return err
	}

	var snapshots *snapshot.MultiBackend
	if uris := cCtx.StringSlice(flagSnapshotBackends.Name); len(uris) > 0 {
		snapshots, err = snapshot.NewMultiBackendFor(uris, logger.With("component", "snapshot"))
		if err != nil {
			logger.Error("Failed to create snapshot backends", "err", err)
			return err
		}
	}

	dbPath := cCtx.String(flagDBPath.Name)
	if restoreID := cCtx.String(flagRestoreSnapshot.Name); restoreID != "" {
		if err := restore(ctx, snapshots, restoreID, dbPath, logger); err != nil {
			return err
		}
	}

	db, err := storage.Open(dbPath, storage.WithLogger(logger.With("component", "storage")))
	if err != nil {
		logger.Error("Failed to open database", "path", dbPath, "err", err)
		return err
	}
	defer db.Close()

	var opts []registry.Option
	if cfg.ChallengeIngestLimit > 0 {
		opts = append(opts, registry.WithLimiter(setupLimiter(cCtx, logger)))
	}
	if snapshots != nil {
		opts = append(opts, registry.WithSnapshots(snapshot.NewExporter(db, snapshots, logger.With("component", "snapshot"))))
	}

	rdfClient := rdf.NewClient(cCtx.String(flagRDFEndpoint.Name), logger.With("component", "rdf"))
	reg := registry.New(db, cfg, ledgerImpl, signer, rdfClient, logger, opts...)

	serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
	serverCfg.AppendRemoteAddr = cCtx.Bool(flagAppendRemoteAddr.Name)
	serverCfg.JanitorInterval = cCtx.Duration(flagJanitorInterval.Name)
	if snapshots != nil {
		serverCfg.SnapshotInterval = cCtx.Duration(flagSnapshotInterval.Name)
	}

	srv, err := server.New(serverCfg, reg)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server",
		"backendPrincipal", cfg.BackendPrincipalID,
		"proxyIP", cfg.ProxyIP,
		"signerKeyID", signer.KeyID())
	srv.RunInBackground()

	// Wait for termination signal
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	srv.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func registryConfig(cCtx *cli.Context, logger *slog.Logger) (registry.Config, error) {
	cfg := registry.DefaultConfig()
	cfg.BackendPrincipalID = normalizePrincipal(cCtx.String(flagBackendPrincipal.Name))
	cfg.DatabasePrincipalID = interfaces.PrincipalID(cCtx.String(flagDatabasePrincipal.Name))
	cfg.LedgerPrincipalID = interfaces.PrincipalID(cCtx.String(flagLedgerPrincipal.Name))
	cfg.ProxyHost = cCtx.String(flagProxyHost.Name)
	cfg.ChallengeTTL = cCtx.Duration(flagChallengeTTL.Name)
	cfg.ChallengeIngestLimit = cCtx.Int(flagChallengeLimit.Name)
	cfg.AccessKeyRequestsLimit = uint32(cCtx.Uint(flagRequestsLimit.Name))
	cfg.AccessKeyPrice = cCtx.Uint64(flagKeyPrice.Name)
	cfg.WoTPort = cCtx.String(flagWoTPort.Name)
	cfg.RDFTimeout = cCtx.Duration(flagRDFTimeout.Name)

	if proxyIP := cCtx.String(flagProxyIP.Name); proxyIP != "" {
		addr, err := netip.ParseAddr(proxyIP)
		if err != nil {
			return cfg, fmt.Errorf("invalid proxy-ip: %w", err)
		}
		cfg.ProxyIP = addr
		return cfg, nil
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, 10*time.Second)
	defer cancel()
	addr, err := netutil.ProxyAddress(ctx, cfg.ProxyHost, cCtx.String(flagDNSServer.Name))
	if err != nil {
		logger.Error("Failed to resolve proxy host", "host", cfg.ProxyHost, "err", err)
		return cfg, err
	}
	logger.Info("Resolved proxy address", "host", cfg.ProxyHost, "ip", addr)
	cfg.ProxyIP = addr
	return cfg, nil
}

// normalizePrincipal checksums hex addresses so they compare equal to the
// principals recovered from request signatures.
func normalizePrincipal(principal string) interfaces.PrincipalID {
	if ethcommon.IsHexAddress(principal) {
		return interfaces.PrincipalID(ethcommon.HexToAddress(principal).Hex())
	}
	return interfaces.PrincipalID(principal)
}

func setupLedger(ctx context.Context, cCtx *cli.Context, logger *slog.Logger) (interfaces.Ledger, error) {
	rpcAddr := cCtx.String(flags.RpcAddrFlag.Name)
	if rpcAddr == "" {
		logger.Warn("No --rpc-addr given, using an in-memory ledger")
		return ledger.NewMemory(), nil
	}

	logger.Info("Connecting to Ethereum RPC", "address", rpcAddr)
	eth, err := ledger.DialEthereum(ctx, rpcAddr, cCtx.String(flagLedgerPrincipal.Name), logger.With("component", "ledger"))
	if err != nil {
		logger.Error("Failed to connect ledger", "err", err)
		return nil, err
	}
	return eth, nil
}

func setupLimiter(cCtx *cli.Context, logger *slog.Logger) ratelimit.Limiter {
	redisAddr := cCtx.String(flagRedisAddr.Name)
	if redisAddr == "" {
		return ratelimit.NewInMemory(time.Minute)
	}

	logger.Info("Using Redis rate limiter", "address", redisAddr)
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return ratelimit.NewRedis(client, time.Minute, logger.With("component", "ratelimit"))
}

func restore(ctx context.Context, backend *snapshot.MultiBackend, id, dbPath string, logger *slog.Logger) error {
	if backend == nil {
		return fmt.Errorf("--restore-snapshot requires at least one --snapshot-backend")
	}
	contentID, err := interfaces.NewContentIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid snapshot id: %w", err)
	}

	logger.Info("Restoring snapshot", "id", contentID.String(), "path", dbPath)
	if err := snapshot.Restore(ctx, backend, contentID, dbPath); err != nil {
		logger.Error("Failed to restore snapshot", "err", err)
		return err
	}
	return nil
}
