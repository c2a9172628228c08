// Package flags defines the command-line flags shared by the node daemon and
// the admin CLI, plus helpers that turn parsed flags into a logger and an
// HTTP server configuration.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/secure-node-control/api"
	"github.com/ruteri/secure-node-control/common"
	"github.com/ruteri/secure-node-control/dyndns"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

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

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:9092",
	Usage: "address to listen on for the control API",
}

var DataDirFlag = &cli.StringFlag{
	Name:     "data-dir",
	Required: true,
	EnvVars:  []string{"NODE_DATA_DIR"},
	Usage:    "directory holding the node keyring and location state",
}

var PasswordSourceFlag = &cli.StringFlag{
	Name:    "password-source",
	Value:   "",
	EnvVars: []string{"NODE_PASSWORD_SOURCE"},
	Usage:   "fixed credential source URI (static:<pw>, env:<VAR>, file:<path> or vault://<host>/<mount>/<path>#<field>); disables interactive prompts",
}

var MaxPasswordAttemptsFlag = &cli.IntFlag{
	Name:  "max-password-attempts",
	Value: 3,
	Usage: "consecutive bad passphrases tolerated before the login attempt turns fatal",
}

var FullControlFlag = &cli.BoolFlag{
	Name:  "full-control",
	Value: true,
	Usage: "whether unlocking should claim full control of the node",
}

var DynDNSServerFlag = &cli.StringFlag{
	Name:  "dyndns-server",
	Value: dyndns.DefaultServer,
	Usage: "DNS server used to check location DynDNS records",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
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
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
