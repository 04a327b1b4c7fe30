package orchestrator

import (
	"time"

	"github.com/jgalley/cpapsync/internal/backend"
)

// DestinationStatus summarizes one destination's progress for operators.
type DestinationStatus struct {
	Name         string    `json:"name"`
	FoldersDone  int       `json:"folders_done"`
	FoldersTotal int       `json:"folders_total"`
	FoldersEmpty int       `json:"folders_empty"`
	Incomplete   int       `json:"incomplete"`
	LastSession  time.Time `json:"last_session"`
}

// Status is a read-only snapshot of the machine. A fresh value is
// published after every tick and swapped in atomically, so a reader never
// observes a half-updated view.
type Status struct {
	State             string              `json:"state"`
	Since             time.Time           `json:"since"`
	TimeInStateSec    float64             `json:"time_in_state_seconds"`
	AccessRemaining   float64             `json:"access_remaining_seconds"`
	CooldownRemaining float64             `json:"cooldown_remaining_seconds"`
	NextEligible      time.Time           `json:"next_eligible"`
	DayCompleted      bool                `json:"day_completed"`
	TransferRate      int64               `json:"transfer_rate_bytes_per_sec"`
	LastResult        string              `json:"last_result,omitempty"`
	Destinations      []DestinationStatus `json:"destinations"`
}

// Status returns the latest published snapshot.
func (o *Orchestrator) Status() Status {
	if s := o.status.Load(); s != nil {
		return *s
	}
	return Status{State: StateIdle.String()}
}

func (o *Orchestrator) publish() {
	now := o.now()
	s := &Status{
		State:          o.state.String(),
		Since:          o.stateSince,
		TimeInStateSec: now.Sub(o.stateSince).Seconds(),
		NextEligible:   o.policy.NextEligible(),
		DayCompleted:   o.policy.DayCompleted(),
		TransferRate:   o.bud.Rate(),
		Destinations:   o.destStatus,
	}
	if o.state == StateUploading {
		s.AccessRemaining = o.bud.Remaining().Seconds()
	}
	if o.state == StateCooldown && o.cooldownUntil.After(now) {
		s.CooldownRemaining = o.cooldownUntil.Sub(now).Seconds()
	}
	if o.lastOutcome.Destination != "" || o.lastOutcome.NothingToDo {
		s.LastResult = o.lastOutcome.result()
	}
	o.status.Store(s)
}

// refreshDestStatus rebuilds the per-destination figures. Called on
// session boundaries rather than every tick to keep the loop away from
// summary-file reads.
func (o *Orchestrator) refreshDestStatus() {
	statuses := make([]DestinationStatus, 0, len(o.dests))
	for _, d := range o.dests {
		sum := backend.ReadSummary(o.cfg.SummaryDir, d.Name)
		statuses = append(statuses, DestinationStatus{
			Name:         d.Name,
			FoldersDone:  sum.FoldersDone,
			FoldersTotal: sum.FoldersTotal,
			FoldersEmpty: sum.FoldersEmpty,
			Incomplete:   d.Ledger.IncompleteCount(),
			LastSession:  sum.SessionStart,
		})
	}
	o.destStatus = statuses
}
