// Package flags holds the CLI flags shared by the service binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/vetkd-access-backend/common"
	"github.com/ruteri/vetkd-access-backend/httpserver"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds the process logger from the logging flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server config from the server flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var MasterSecretSeedFlag = &cli.StringFlag{
	Name:     "master-secret-seed",
	Required: true,
	Usage:    "hex-encoded 32-byte seed for the dev key derivation service",
}

var RotationMinutesFlag = &cli.Uint64Flag{
	Name:  "rotation-minutes",
	Value: 1000,
	Usage: "symmetric key rotation period in minutes",
}

var ExpirationMinutesFlag = &cli.Uint64Flag{
	Name:  "expiration-minutes",
	Value: 10000,
	Usage: "epoch retention period in minutes",
}

var InboxCapacityFlag = &cli.IntFlag{
	Name:  "inbox-capacity",
	Value: 0,
	Usage: "maximum messages per inbox (0 uses the built-in default)",
}

var SweepIntervalSecondsFlag = &cli.Int64Flag{
	Name:  "sweep-interval-seconds",
	Value: 60,
	Usage: "seconds between expiry sweeps (0 disables the timer)",
}

var SnapshotURIFlag = &cli.StringFlag{
	Name:  "snapshot-uri",
	Value: "memory://",
	Usage: "state snapshot location: file://<dir>, badger://<dir> or memory://",
}

var SnapshotIntervalSecondsFlag = &cli.Int64Flag{
	Name:  "snapshot-interval-seconds",
	Value: 0,
	Usage: "seconds between periodic state snapshots (0 snapshots only on shutdown)",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

// CommonFlags are shared by every binary.
var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
