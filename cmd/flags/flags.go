// Package flags holds the command-line flags shared by the omnia binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/omnia-iot/omnia-backend/api"
	"github.com/omnia-iot/omnia-backend/common"
	"github.com/urfave/cli/v2"
)

const (
	categoryLogging = "Logging"
	categoryHTTP    = "HTTP server"
)

// SetupLogger builds the process logger from the logging flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(logServiceFlagName),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		logger = logger.With("uid", uuid.Must(uuid.NewRandom()).String())
	}
	return logger
}

// ConfigureServer reads the HTTP server flags. Binary-specific fields such as
// the janitor and snapshot intervals are filled in by the caller.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: cCtx.Duration(ShutdownTimeoutFlag.Name),
		ReadTimeout:              cCtx.Duration(ReadTimeoutFlag.Name),
		WriteTimeout:             cCtx.Duration(WriteTimeoutFlag.Name),
	}
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server-addr",
	Value:   "http://127.0.0.1:8080",
	Usage:   "registry server to send requests to",
	EnvVars: []string{"OMNIA_SERVER_ADDR"},
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Usage:   "Ethereum JSON-RPC endpoint backing the ledger; empty uses an in-memory ledger",
	EnvVars: []string{"OMNIA_RPC_ADDR"},
}

var (
	LogJsonFlag = &cli.BoolFlag{
		Name:     "log-json",
		Usage:    "log in JSON format",
		EnvVars:  []string{"OMNIA_LOG_JSON"},
		Category: categoryLogging,
	}
	LogDebugFlag = &cli.BoolFlag{
		Name:     "log-debug",
		Usage:    "log debug messages",
		EnvVars:  []string{"OMNIA_LOG_DEBUG"},
		Category: categoryLogging,
	}
	LogUidFlag = &cli.BoolFlag{
		Name:     "log-uid",
		Usage:    "generate a uuid and add to all log messages",
		Category: categoryLogging,
	}
)

const logServiceFlagName = "log-service"

// LogServiceFlagFn returns the log-service flag defaulting to service.
var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     logServiceFlagName,
		Value:    service,
		Usage:    "add 'service' tag to logs",
		Category: categoryLogging,
	}
}

var (
	PprofFlag = &cli.BoolFlag{
		Name:     "pprof",
		Usage:    "enable pprof debug endpoint under /debug",
		Category: categoryHTTP,
	}
	DrainSecondsFlag = &cli.Int64Flag{
		Name:     "drain-seconds",
		Value:    45,
		Usage:    "seconds between marking the server not ready and stopping it",
		Category: categoryHTTP,
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:     "metrics-addr",
		Value:    "127.0.0.1:8090",
		Usage:    "address to listen on for Prometheus metrics; empty disables",
		EnvVars:  []string{"OMNIA_METRICS_ADDR"},
		Category: categoryHTTP,
	}
	ShutdownTimeoutFlag = &cli.DurationFlag{
		Name:     "shutdown-timeout",
		Value:    30 * time.Second,
		Usage:    "maximum time to wait for in-flight requests on shutdown",
		Category: categoryHTTP,
	}
	ReadTimeoutFlag = &cli.DurationFlag{
		Name:     "read-timeout",
		Value:    60 * time.Second,
		Usage:    "maximum duration for reading a request including its body",
		Category: categoryHTTP,
	}
	WriteTimeoutFlag = &cli.DurationFlag{
		Name:     "write-timeout",
		Value:    30 * time.Second,
		Usage:    "maximum duration for writing a response",
		Category: categoryHTTP,
	}
)

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	ShutdownTimeoutFlag,
	ReadTimeoutFlag,
	WriteTimeoutFlag,
}
