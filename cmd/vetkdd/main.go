// The vetkdd binary serves the access-controlled key derivation API: the
// rights ledger, chat and epoch management, key slots, message stores and
// the periodic expiry sweep.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/vetkd-access-backend/api"
	"github.com/ruteri/vetkd-access-backend/cmd/flags"
	"github.com/ruteri/vetkd-access-backend/common"
	"github.com/ruteri/vetkd-access-backend/epochs"
	"github.com/ruteri/vetkd-access-backend/httpserver"
	"github.com/ruteri/vetkd-access-backend/inbox"
	"github.com/ruteri/vetkd-access-backend/janitor"
	"github.com/ruteri/vetkd-access-backend/keyslots"
	"github.com/ruteri/vetkd-access-backend/ledger"
	"github.com/ruteri/vetkd-access-backend/maps"
	"github.com/ruteri/vetkd-access-backend/messages"
	"github.com/ruteri/vetkd-access-backend/metrics"
	"github.com/ruteri/vetkd-access-backend/storage"
	"github.com/ruteri/vetkd-access-backend/vetkd"
	"github.com/urfave/cli/v2"
)

var serviceFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.MasterSecretSeedFlag,
	flags.RotationMinutesFlag,
	flags.ExpirationMinutesFlag,
	flags.InboxCapacityFlag,
	flags.SweepIntervalSecondsFlag,
	flags.SnapshotURIFlag,
	flags.SnapshotIntervalSecondsFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "vetkdd",
		Usage:  "Serve the vetKD access control and key epoch API",
		Flags:  serviceFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	seed, err := hex.DecodeString(cCtx.String(flags.MasterSecretSeedFlag.Name))
	if err != nil || len(seed) != 32 {
		logger.Error("Invalid master-secret-seed - must be 64 hex chars (32 bytes)", "err", err)
		return fmt.Errorf("invalid master-secret-seed: %v", err)
	}
	vetkdSvc, err := vetkd.NewDevService(seed)
	if err != nil {
		logger.Error("Failed to create key derivation service", "err", err)
		return err
	}

	rights := ledger.New(logger)
	manager := epochs.New(epochs.Config{
		RotationMinutes:   cCtx.Uint64(flags.RotationMinutesFlag.Name),
		ExpirationMinutes: cCtx.Uint64(flags.ExpirationMinutesFlag.Name),
		Log:               logger,
		VetKD:             vetkdSvc,
		Rights:            rights,
	})
	slots := keyslots.New(manager, logger)
	manager.SetSlotChecker(slots)
	msgs := messages.New(manager, logger)
	inboxes := inbox.New(cCtx.Int(flags.InboxCapacityFlag.Name), nil, logger)
	mapStore := maps.New(rights, logger)
	sweeper := janitor.New(manager, msgs, slots, logger)

	// state persistence
	backend, err := storage.NewBackend(cCtx.String(flags.SnapshotURIFlag.Name))
	if err != nil {
		logger.Error("Failed to create storage backend", "err", err)
		return err
	}
	defer backend.Close()
	snapshotter := storage.NewSnapshotter(backend, logger,
		rights, manager, slots, msgs, inboxes, mapStore)
	if err := snapshotter.RestoreAll(); err != nil {
		logger.Error("Failed to restore state", "err", err)
		return err
	}
	logger.Info("State restored", "backend", backend.Name(), "location", backend.LocationURI())

	cfg := flags.ConfigureServer(cCtx, logger)
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		logger.Error("Failed to create metrics server", "err", err)
		return err
	}

	handler := api.NewHandler(api.Config{
		Log:      logger,
		Metrics:  metricsSrv,
		Rights:   rights,
		Epochs:   manager,
		Slots:    slots,
		Messages: msgs,
		Inbox:    inboxes,
		Maps:     mapStore,
		Janitor:  sweeper,
	})
	server, err := httpserver.NewWithMetrics(cfg, handler, metricsSrv)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	stop := make(chan struct{})
	if interval := cCtx.Int64(flags.SweepIntervalSecondsFlag.Name); interval > 0 {
		go runSweeper(sweeper, metricsSrv, time.Duration(interval)*time.Second, stop)
	}
	if interval := cCtx.Int64(flags.SnapshotIntervalSecondsFlag.Name); interval > 0 {
		go runSnapshotter(snapshotter, logger, time.Duration(interval)*time.Second, stop)
	}

	logger.Info("Starting server")
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	close(stop)
	server.Shutdown()
	if err := snapshotter.SaveAll(); err != nil {
		logger.Error("Failed to save state on shutdown", "err", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}

func runSweeper(sweeper *janitor.Janitor, m *metrics.MetricsServer, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report := sweeper.Sweep()
			m.Sweeps.Inc()
			m.SweptEntries.WithLabelValues("direct_messages").Add(float64(report.DirectMessages))
			m.SweptEntries.WithLabelValues("group_messages").Add(float64(report.GroupMessages))
			m.SweptEntries.WithLabelValues("caches").Add(float64(report.Caches))
			m.SweptEntries.WithLabelValues("reshares").Add(float64(report.Reshares))
		case <-stop:
			return
		}
	}
}

func runSnapshotter(snapshotter *storage.Snapshotter, logger *slog.Logger, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := snapshotter.SaveAll(); err != nil {
				logger.Error("Periodic state snapshot failed", "err", err)
			}
		case <-stop:
			return
		}
	}
}
