// Package arbiter hands exclusive control of the shared storage bus back and
// forth between this appliance and the therapy device. The bus is the single
// serialized resource: at any instant it is owned by exactly one side.
//
// There is no real mutex here to lean on — exclusion is a two-party protocol
// built from a physical switch plus the caller's idleness evidence. The
// caller must confirm bus silence (sensor.Monitor) before calling Acquire;
// the arbiter only performs the hand-over and mount.
package arbiter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrAlreadyHeld is returned by Acquire while a previous Handle is
	// still outstanding.
	ErrAlreadyHeld = errors.New("storage bus already held")
)

// BusSwitch drives the physical multiplexer that routes the storage bus to
// either the appliance or the therapy device.
type BusSwitch interface {
	// Route gives the bus to the appliance when toAppliance is true,
	// back to the therapy device otherwise.
	Route(toAppliance bool) error
}

// Mounter mounts and unmounts the storage filesystem once the bus is routed
// to the appliance. Root is the mount point while mounted.
type Mounter interface {
	Mount(readOnly bool) error
	Unmount() error
	Root() string
}

// Arbiter owns the bus hand-over sequence. At most one Handle is live at a
// time; Release is guaranteed idempotent so every error path can call it.
type Arbiter struct {
	sw      BusSwitch
	mounter Mounter
	logger  *slog.Logger

	// settle is how long the multiplexer and card need after switching
	// before the filesystem can be mounted.
	settle time.Duration

	mu   sync.Mutex
	held bool
}

// New creates an Arbiter. settle may be zero (tests, virtual buses).
func New(sw BusSwitch, mounter Mounter, settle time.Duration, logger *slog.Logger) *Arbiter {
	return &Arbiter{
		sw:      sw,
		mounter: mounter,
		settle:  settle,
		logger:  logger,
	}
}

// Handle represents an exclusive-access grant. Its only constructor is
// Arbiter.Acquire; Release may be called any number of times but tears down
// exactly once.
type Handle struct {
	a        *Arbiter
	readOnly bool
	once     sync.Once
}

// Acquire routes the bus to the appliance and mounts the storage filesystem.
// The caller must have observed bus silence for the configured threshold
// beforehand. On any failure the bus is routed back to the therapy device
// before returning.
func (a *Arbiter) Acquire(readOnly bool) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.held {
		return nil, ErrAlreadyHeld
	}

	if err := a.sw.Route(true); err != nil {
		return nil, fmt.Errorf("routing bus to appliance: %w", err)
	}
	if a.settle > 0 {
		time.Sleep(a.settle)
	}

	if err := a.mounter.Mount(readOnly); err != nil {
		// Teardown must succeed even though mount failed partway.
		if uerr := a.mounter.Unmount(); uerr != nil {
			a.logger.Debug("unmount after failed mount", "error", uerr)
		}
		if serr := a.sw.Route(false); serr != nil {
			a.logger.Error("failed to return bus after mount failure", "error", serr)
		}
		return nil, fmt.Errorf("mounting storage: %w", err)
	}

	a.held = true
	a.logger.Info("storage bus acquired", "read_only", readOnly)
	return &Handle{a: a, readOnly: readOnly}, nil
}

// HasControl reports whether the appliance currently owns the bus.
func (a *Arbiter) HasControl() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}

// Root returns the mounted filesystem root for this grant.
func (h *Handle) Root() string {
	return h.a.mounter.Root()
}

// ReadOnly reports whether the grant was acquired read-only.
func (h *Handle) ReadOnly() bool {
	return h.readOnly
}

// NopSwitch is used on rigs where the multiplexer is strapped permanently to
// the appliance (bench testing without a therapy device).
type NopSwitch struct{}

func (NopSwitch) Route(bool) error { return nil }

// DirMounter serves an already-available directory as the storage root.
// Used for development and for shares the operating system keeps mounted.
type DirMounter struct {
	Dir string
}

func (m DirMounter) Mount(bool) error { return nil }
func (m DirMounter) Unmount() error   { return nil }
func (m DirMounter) Root() string     { return m.Dir }

// Release unmounts the filesystem and hands the bus back to the therapy
// device. Safe to call multiple times; only the first call acts.
func (h *Handle) Release() {
	h.once.Do(func() {
		a := h.a
		a.mu.Lock()
		defer a.mu.Unlock()

		if err := a.mounter.Unmount(); err != nil {
			a.logger.Error("unmount failed during release", "error", err)
		}
		if err := a.sw.Route(false); err != nil {
			a.logger.Error("failed to return bus to therapy device", "error", err)
		}
		if a.settle > 0 {
			time.Sleep(a.settle)
		}
		a.held = false
		a.logger.Info("storage bus released")
	})
}
