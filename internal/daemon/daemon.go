// Package daemon runs the appliance: one control loop driving the sensor
// and the orchestrator, plus the status HTTP server as an independent,
// lower-priority task.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jgalley/cpapsync/internal/history"
	"github.com/jgalley/cpapsync/internal/orchestrator"
	"github.com/jgalley/cpapsync/internal/sensor"
)

// tickInterval paces the control loop. The sensor sub-samples internally,
// so the loop just has to come around faster than the sampling window.
const tickInterval = 100 * time.Millisecond

// Daemon ties the control loop and the status server together.
type Daemon struct {
	orch   *orchestrator.Orchestrator
	mon    *sensor.Monitor
	listen string
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new Daemon instance. listen may be empty to disable the
// status server.
func New(orch *orchestrator.Orchestrator, mon *sensor.Monitor, listen string, logger *slog.Logger) *Daemon {
	return &Daemon{
		orch:   orch,
		mon:    mon,
		listen: listen,
		logger: logger,
	}
}

// Run starts the daemon and blocks until Stop is called or the context is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		close(d.doneCh)
		d.mu.Unlock()
	}()

	var srv *http.Server
	if d.listen != "" {
		srv = &http.Server{Addr: d.listen, Handler: d.handler()}
		go func() {
			d.logger.Info("status server listening", "addr", d.listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("status server failed", "error", err)
			}
		}()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.controlLoop(loopCtx)
	}()

	select {
	case <-ctx.Done():
		d.logger.Info("context cancelled, shutting down")
	case <-d.stopCh:
		d.logger.Info("stop requested, shutting down")
	}

	cancel()
	wg.Wait()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("status server shutdown", "error", err)
		}
	}

	return nil
}

// Stop signals the daemon to stop gracefully.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.running && d.stopCh != nil {
		select {
		case <-d.stopCh:
		default:
			close(d.stopCh)
		}
	}
	d.mu.Unlock()
}

// Wait blocks until the daemon has fully stopped.
func (d *Daemon) Wait() {
	d.mu.Lock()
	doneCh := d.doneCh
	d.mu.Unlock()

	if doneCh != nil {
		<-doneCh
	}
}

// controlLoop is the single mutating path through the machine: poll the
// sensor, advance the orchestrator, repeat. A tick may run long while a
// session uploads; the loop simply resumes on the next interval.
func (d *Daemon) controlLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mon.Poll()
			d.orch.Tick()
		}
	}
}

// HistoryRecorder adapts a history.Store to the orchestrator's Recorder.
type HistoryRecorder struct {
	Store history.Store
}

func (h HistoryRecorder) Record(rec orchestrator.SessionRecord) error {
	return h.Store.RecordSession(context.Background(), history.Session{
		Destination:  rec.Destination,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		Result:       rec.Result,
		FoldersDone:  rec.FoldersDone,
		FoldersTotal: rec.FoldersTotal,
		FoldersEmpty: rec.FoldersEmpty,
		Files:        rec.Files,
		Bytes:        rec.Bytes,
	})
}
