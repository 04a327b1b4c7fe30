package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgalley/cpapsync/internal/arbiter"
	"github.com/jgalley/cpapsync/internal/backend"
	"github.com/jgalley/cpapsync/internal/config"
	"github.com/jgalley/cpapsync/internal/daemon"
	"github.com/jgalley/cpapsync/internal/history"
	"github.com/jgalley/cpapsync/internal/ledger"
	"github.com/jgalley/cpapsync/internal/orchestrator"
	"github.com/jgalley/cpapsync/internal/schedule"
	"github.com/jgalley/cpapsync/internal/sensor"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the appliance daemon",
	Long:  `Start the cpapsync daemon. This is typically invoked by systemd.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Override log level from flag if specified
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("starting cpapsync daemon",
		"config", cfgFile,
		"mode", cfg.Upload.Mode,
		"destinations", len(cfg.Destinations),
	)

	if len(cfg.Destinations) == 0 {
		return fmt.Errorf("no destinations configured")
	}

	mon := buildSensor(cfg.Bus, logger)

	sw, err := buildBusSwitch(cfg.Bus)
	if err != nil {
		return fmt.Errorf("setting up bus switch: %w", err)
	}
	mounter, err := buildMounter(cfg.Storage)
	if err != nil {
		return fmt.Errorf("setting up mounter: %w", err)
	}
	arb := arbiter.New(sw, mounter, time.Duration(cfg.Bus.SettleMs)*time.Millisecond, logger)

	dests, err := buildDestinations(cfg, logger)
	if err != nil {
		return err
	}

	policy, err := schedule.New(schedule.Mode(cfg.Upload.Mode),
		cfg.Upload.WindowStartHour, cfg.Upload.WindowEndHour, cfg.Upload.TZOffsetHours)
	if err != nil {
		return fmt.Errorf("setting up schedule policy: %w", err)
	}

	store, err := history.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing history database: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		Silence:          time.Duration(cfg.Upload.SilenceSeconds) * time.Second,
		Access:           time.Duration(cfg.Upload.AccessMinutes) * time.Minute,
		Cooldown:         time.Duration(cfg.Upload.CooldownMinutes) * time.Minute,
		RecentDays:       cfg.Upload.RecentDays,
		MaxDays:          cfg.Upload.MaxDays,
		MaxRetryAttempts: cfg.Upload.MaxRetryAttempts,
		SummaryDir:       cfg.Ledger.Dir,
	}, mon, arbiterAdapter{arb}, policy, dests, logger)
	orch.SetHistory(daemon.HistoryRecorder{Store: store})

	d := daemon.New(orch, mon, cfg.Status.Listen, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", "signal", sig)
		cancel()
	}()

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("daemon error: %w", err)
	}

	logger.Info("daemon stopped")
	return nil
}

// buildSensor opens the bus-activity counter. A missing or broken counter
// degrades to a fail-open monitor rather than refusing to start.
func buildSensor(cfg config.BusConfig, logger *slog.Logger) *sensor.Monitor {
	if cfg.CounterDevice == "" {
		logger.Warn("no bus counter configured, sensor runs fail-open")
		return sensor.New(nil, logger)
	}
	counter, err := sensor.OpenSysfsCounter(cfg.CounterDevice)
	if err != nil {
		logger.Warn("opening bus counter failed, sensor runs fail-open",
			"device", cfg.CounterDevice, "error", err)
		return sensor.New(nil, logger)
	}
	return sensor.New(counter, logger)
}

func buildDestinations(cfg *config.Config, logger *slog.Logger) ([]*orchestrator.Destination, error) {
	dests := make([]*orchestrator.Destination, 0, len(cfg.Destinations))
	for _, dc := range cfg.Destinations {
		var b backend.Backend
		var err error
		switch dc.Type {
		case "share":
			b = backend.NewShare(dc.Name, dc.Path, logger)
		case "http":
			b, err = backend.NewHTTP(dc.Name, dc.URL, dc.Username, dc.Password, logger)
			if err != nil {
				return nil, fmt.Errorf("destination %s: %w", dc.Name, err)
			}
		}

		l := ledger.New(cfg.Ledger.Dir, dc.Name, logger)
		if err := l.Load(); err != nil {
			// Ledger corruption degrades to partial state; refusing to
			// boot would strand the appliance.
			logger.Error("loading ledger, continuing with partial state",
				"destination", dc.Name, "error", err)
		}

		dests = append(dests, &orchestrator.Destination{Name: dc.Name, Backend: b, Ledger: l})
	}
	return dests, nil
}

// arbiterAdapter narrows *arbiter.Arbiter to the orchestrator's interface.
type arbiterAdapter struct {
	a *arbiter.Arbiter
}

func (w arbiterAdapter) Acquire(readOnly bool) (orchestrator.StorageHandle, error) {
	h, err := w.a.Acquire(readOnly)
	if err != nil {
		return nil, err
	}
	return h, nil
}
