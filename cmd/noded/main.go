package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/secure-node-control/accounts"
	"github.com/ruteri/secure-node-control/api/controlapi"
	"github.com/ruteri/secure-node-control/cmd/flags"
	"github.com/ruteri/secure-node-control/control"
	"github.com/ruteri/secure-node-control/dyndns"
	"github.com/ruteri/secure-node-control/httpserver"
	"github.com/ruteri/secure-node-control/passwordsource"
	"github.com/urfave/cli/v2"
)

var NodedServiceLogFlag = flags.LogServiceFlagFn("noded")

// exitPollInterval is how often the driver loop checks whether the control
// machine wants the process gone.
const exitPollInterval = 250 * time.Millisecond

var nodedFlags []cli.Flag = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.DataDirFlag,
	flags.PasswordSourceFlag,
	flags.MaxPasswordAttemptsFlag,
	flags.FullControlFlag,
	flags.DynDNSServerFlag,
	NodedServiceLogFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "noded",
		Usage: "Run the node login and lifecycle control service",
		Flags: nodedFlags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(flags.ListenAddrFlag.Name)
			dataDir := cCtx.String(flags.DataDirFlag.Name)
			passwordSourceURI := cCtx.String(flags.PasswordSourceFlag.Name)
			maxPasswordAttempts := cCtx.Int(flags.MaxPasswordAttemptsFlag.Name)
			fullControl := cCtx.Bool(flags.FullControlFlag.Name)
			dyndnsServer := cCtx.String(flags.DynDNSServerFlag.Name)

			// Setup logger
			logger := flags.SetupLogger(cCtx)

			// Resolve the fixed credential up front so a broken source fails
			// the process instead of the first login attempt.
			fixedPassword := ""
			if passwordSourceURI != "" {
				source, err := passwordsource.FromURI(passwordSourceURI, logger)
				if err != nil {
					logger.Error("Failed to parse password source", "err", err)
					return err
				}

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				fixedPassword, err = source.Password(ctx)
				cancel()
				if err != nil {
					logger.Error("Failed to resolve fixed credential", "source", source.Name(), "err", err)
					return err
				}
				logger.Info("Fixed credential resolved", "source", source.Name())
			}

			// Account engine over the on-disk keyring and location state
			engine, err := accounts.New(accounts.Config{
				DataDir:  dataDir,
				Log:      logger,
				Resolver: dyndns.NewResolver(dyndnsServer),
			})
			if err != nil {
				logger.Error("Failed to create account engine", "err", err)
				return err
			}

			machine, err := control.New(control.Config{
				Engine:              engine,
				Log:                 logger,
				FullControl:         fullControl,
				MaxPasswordAttempts: maxPasswordAttempts,
				FixedPassword:       fixedPassword,
			})
			if err != nil {
				logger.Error("Failed to create control machine", "err", err)
				return err
			}

			handler := controlapi.NewHandler(machine, engine, logger)
			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			machine.Start(context.Background())
			srv.RunInBackground()

			// Driver loop: forward termination signals into the machine and
			// poll it for the exit decision. Shutdown can also arrive through
			// the API, so the signal channel alone is not enough.
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			ticker := time.NewTicker(exitPollInterval)
			defer ticker.Stop()

			logger.Info("Node control is running, press Ctrl+C to stop", "listenAddr", listenAddr)
			running := true
			for running {
				select {
				case <-exit:
					logger.Info("Shutdown signal received")
					machine.RequestShutdown()
				case <-ticker.C:
					if machine.ProcessShouldExit() {
						running = false
					}
				}
			}

			// Unwind in dependency order: stop the machine first so no new
			// engine work starts, then shut the server down gracefully.
			machine.Stop()
			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
