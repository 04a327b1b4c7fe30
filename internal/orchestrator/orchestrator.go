// Package orchestrator drives the upload cycle: listen for bus silence,
// take the storage bus, move one destination's backlog, give the bus back,
// cool down. It composes the sensor, arbiter, ledger, and schedule policy
// and owns all session bookkeeping.
package orchestrator

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jgalley/cpapsync/internal/backend"
	"github.com/jgalley/cpapsync/internal/ledger"
	"github.com/jgalley/cpapsync/internal/schedule"
)

// ActivitySensor is the slice of the bus sensor the orchestrator needs.
type ActivitySensor interface {
	IsIdleFor(d time.Duration) bool
	ResetIdleTracking()
}

// StorageHandle is an exclusive-access grant. Release must be idempotent.
type StorageHandle interface {
	Root() string
	Release()
}

// StorageArbiter grants exclusive storage access. The caller confirms bus
// silence before asking.
type StorageArbiter interface {
	Acquire(readOnly bool) (StorageHandle, error)
}

// Destination pairs an upload backend with its transfer ledger. Each
// destination progresses independently; a session serves exactly one.
type Destination struct {
	Name    string
	Backend backend.Backend
	Ledger  *ledger.Ledger
}

// SessionRecord is handed to the Recorder after every session for the
// operator history surface.
type SessionRecord struct {
	Destination  string
	StartedAt    time.Time
	CompletedAt  time.Time
	Result       string
	FoldersDone  int
	FoldersTotal int
	FoldersEmpty int
	Files        int
	Bytes        int64
}

// Recorder receives finished-session records. May be nil.
type Recorder interface {
	Record(rec SessionRecord) error
}

// Config carries the orchestrator's timing knobs, already clamped by the
// configuration layer.
type Config struct {
	Silence          time.Duration
	Access           time.Duration
	Cooldown         time.Duration
	RecentDays       int
	MaxDays          int
	MaxRetryAttempts int
	// SummaryDir holds the per-destination session summary files.
	SummaryDir string
}

// Orchestrator is the state machine. It is single-threaded: Tick is called
// from one control loop and is the only method that mutates state. The
// monitoring flags and the status pointer are the only cross-goroutine
// surfaces.
type Orchestrator struct {
	cfg     Config
	sensor  ActivitySensor
	arbiter StorageArbiter
	policy  *schedule.Policy
	dests   []*Destination
	history Recorder
	logger  *slog.Logger

	// recovery runs after a session that transferred data, before
	// cooldown. The deployment hooks memory reclamation here.
	recovery func()

	now func() time.Time

	state         State
	stateSince    time.Time
	cooldownUntil time.Time
	handle        StorageHandle
	sessionStart  time.Time
	lastOutcome   sessionOutcome
	bud           *budget

	monitorReq atomic.Bool

	status     atomic.Pointer[Status]
	destStatus []DestinationStatus
}

func New(cfg Config, sensor ActivitySensor, arb StorageArbiter, policy *schedule.Policy, dests []*Destination, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		sensor:  sensor,
		arbiter: arb,
		policy:  policy,
		dests:   dests,
		logger:  logger,
		now:     time.Now,
		bud:     newBudget(),
		state:   StateIdle,
	}
	o.stateSince = o.now()
	o.refreshDestStatus()
	o.publish()
	return o
}

// SetHistory attaches a session-history sink.
func (o *Orchestrator) SetHistory(r Recorder) { o.history = r }

// SetRecovery attaches the post-session recovery hook.
func (o *Orchestrator) SetRecovery(fn func()) { o.recovery = fn }

// SetClock replaces every internal time source. Intended for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.bud.now = now
	o.policy.SetClock(now)
	o.stateSince = now()
}

// State returns the current machine state.
func (o *Orchestrator) State() State { return o.state }

// RequestMonitoring asks the machine to park in the monitoring state. The
// request is cooperative: a running session finishes its current file and
// the mandatory phase first.
func (o *Orchestrator) RequestMonitoring() { o.monitorReq.Store(true) }

// StopMonitoring withdraws the monitoring request.
func (o *Orchestrator) StopMonitoring() { o.monitorReq.Store(false) }

// Tick advances the machine one step. Only Acquiring, Uploading, and
// Releasing may block for non-trivial time; every other state is computed
// from timestamps so the caller's loop stays responsive.
func (o *Orchestrator) Tick() {
	defer o.publish()

	switch o.state {
	case StateIdle:
		if o.monitorReq.Load() {
			o.transition(StateMonitoring)
			return
		}
		if o.eligibleNow() {
			o.transition(StateListening)
		}

	case StateListening:
		if o.monitorReq.Load() {
			o.transition(StateMonitoring)
			return
		}
		if !o.eligibleNow() {
			o.transition(StateIdle)
			return
		}
		if o.sensor.IsIdleFor(o.cfg.Silence) {
			o.transition(StateAcquiring)
		}

	case StateAcquiring:
		h, err := o.arbiter.Acquire(true)
		if err != nil {
			o.logger.Warn("storage acquisition failed", "error", err)
			o.lastOutcome = sessionOutcome{Err: err}
			o.sessionStart = o.now()
			o.transition(StateReleasing)
			return
		}
		o.handle = h
		o.sessionStart = o.now()
		o.transition(StateUploading)

	case StateUploading:
		o.lastOutcome = o.runSession(o.handle.Root())
		o.transition(StateReleasing)

	case StateReleasing:
		if o.handle != nil {
			o.handle.Release()
			o.handle = nil
		}
		out := o.lastOutcome
		o.recordSession(out)
		o.refreshDestStatus()

		switch {
		case o.monitorReq.Load():
			o.transition(StateMonitoring)
		case out.NothingToDo:
			// Skip the recovery side effect; nothing was touched.
			o.transition(StateCooldown)
		case out.FullSuccess:
			o.policy.MarkDayCompleted()
			if o.recovery != nil {
				o.recovery()
			}
			o.transition(StateComplete)
		default:
			if out.Files > 0 && o.recovery != nil {
				o.recovery()
			}
			o.transition(StateCooldown)
		}

	case StateCooldown:
		if o.monitorReq.Load() {
			o.transition(StateMonitoring)
			return
		}
		if o.now().Before(o.cooldownUntil) {
			return
		}
		if o.eligibleNow() {
			o.transition(StateListening)
		} else {
			o.transition(StateIdle)
		}

	case StateComplete:
		if o.monitorReq.Load() {
			o.transition(StateMonitoring)
			return
		}
		o.transition(StateIdle)

	case StateMonitoring:
		if !o.monitorReq.Load() {
			o.transition(StateIdle)
		}
	}
}

func (o *Orchestrator) transition(next State) {
	if next == o.state {
		return
	}
	o.logger.Info("state transition", "from", o.state.String(), "to", next.String())
	o.state = next
	o.stateSince = o.now()

	switch next {
	case StateListening:
		// Each cycle needs a fresh silence measurement.
		o.sensor.ResetIdleTracking()
	case StateCooldown:
		o.cooldownUntil = o.now().Add(o.cfg.Cooldown)
	}
}

// eligibleNow is the storage-free eligibility check used by Idle and
// Cooldown. Fresh-data presence is only knowable with the card mounted, so
// it is assumed and the session's pre-flight scan makes the real call; old
// data presence comes from the ledgers.
func (o *Orchestrator) eligibleNow() bool {
	if o.policy.Mode() == schedule.ModeScheduled && o.policy.DayCompleted() {
		return false
	}
	hasOld := false
	for _, d := range o.dests {
		if d.Ledger.IncompleteCount() > 0 {
			hasOld = true
			break
		}
	}
	return o.policy.UploadEligible(true, hasOld)
}

func (o *Orchestrator) recordSession(out sessionOutcome) {
	if o.history == nil || out.Destination == "" {
		return
	}
	rec := SessionRecord{
		Destination:  out.Destination,
		StartedAt:    o.sessionStart,
		CompletedAt:  o.now(),
		Result:       out.result(),
		FoldersDone:  out.FoldersDone,
		FoldersTotal: out.FoldersTotal,
		FoldersEmpty: out.FoldersEmpty,
		Files:        out.Files,
		Bytes:        out.Bytes,
	}
	if err := o.history.Record(rec); err != nil {
		o.logger.Warn("recording session history", "error", err)
	}
}
