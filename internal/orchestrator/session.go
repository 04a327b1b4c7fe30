package orchestrator

import (
	"errors"
	"time"

	"github.com/jgalley/cpapsync/internal/backend"
	"github.com/jgalley/cpapsync/internal/ledger"
)

// consecutiveFailureLimit trips the in-session circuit breaker: after this
// many folders fail back to back, the destination is assumed down and the
// session stops early rather than burning the access window on errors.
const consecutiveFailureLimit = 2

type phaseResult int

const (
	phaseComplete phaseResult = iota
	phaseTimeout
	phaseError
	// phaseInterrupted means an operator monitoring request arrived; the
	// current file was finished, no new items start.
	phaseInterrupted
)

type sessionOutcome struct {
	Destination  string
	NothingToDo  bool
	FullSuccess  bool
	TimedOut     bool
	FoldersDone  int
	FoldersTotal int
	FoldersEmpty int
	Files        int
	Bytes        int64
	Err          error
}

func (s sessionOutcome) result() string {
	switch {
	case s.NothingToDo:
		return "nothing-to-do"
	case s.Err != nil:
		return "error"
	case s.FullSuccess:
		return "complete"
	case s.TimedOut:
		return "timeout"
	default:
		return "partial"
	}
}

// runSession performs one exclusive-access session against the card
// mounted at root. Pre-flight is storage-only; if no destination has
// pending work the session reports NothingToDo without touching the
// network.
func (o *Orchestrator) runSession(root string) sessionOutcome {
	now := o.now()
	inv, err := scanCard(root, now, o.cfg.RecentDays, o.cfg.MaxDays)
	if err != nil {
		return sessionOutcome{Err: err}
	}

	dest := o.chooseDestination(inv, now)
	if dest == nil {
		o.logger.Info("pre-flight found no pending work")
		return sessionOutcome{NothingToDo: true}
	}
	o.logger.Info("session starting",
		"destination", dest.Name,
		"fresh_folders", len(inv.fresh),
		"old_folders", len(inv.old))

	out := o.runPhases(dest, root, inv, now)
	out.Destination = dest.Name
	return out
}

// chooseDestination picks the destination this session serves: among those
// with pending work, the one whose last session started longest ago. One
// destination per session keeps a single network footprint at a time.
func (o *Orchestrator) chooseDestination(inv inventory, now time.Time) *Destination {
	var chosen *Destination
	var chosenStart time.Time
	for _, d := range o.dests {
		if !o.destinationHasWork(d, inv, now) {
			continue
		}
		start := backend.ReadSummary(o.cfg.SummaryDir, d.Name).SessionStart
		if chosen == nil || start.Before(chosenStart) {
			chosen = d
			chosenStart = start
		}
	}
	return chosen
}

func (o *Orchestrator) destinationHasWork(d *Destination, inv inventory, now time.Time) bool {
	for _, f := range inv.fresh {
		if o.folderHasWork(d.Ledger, f, now) {
			return true
		}
	}
	if o.policy.CanUploadOldData() {
		for _, f := range inv.old {
			if !f.empty() && !d.Ledger.IsFolderCompleted(f.day) {
				return true
			}
		}
	}
	return false
}

// folderHasWork covers the recent-rescan rule: a completed fresh folder is
// still work when the device has grown one of its files since the last
// session.
func (o *Orchestrator) folderHasWork(l *ledger.Ledger, f dayFolder, now time.Time) bool {
	if f.empty() {
		if l.IsFolderCompleted(f.day) {
			return false
		}
		if !l.IsPendingFolder(f.day) {
			return true // needs its pending mark
		}
		return l.ShouldPromotePendingToCompleted(f.day, now)
	}
	if !l.IsFolderCompleted(f.day) {
		return true
	}
	for _, file := range f.files {
		if file.size > 0 && l.IsFileChanged(file.rel, file.size, "") {
			return true
		}
	}
	return false
}

func (o *Orchestrator) runPhases(dest *Destination, root string, inv inventory, now time.Time) sessionOutcome {
	total := len(inv.fresh) + len(inv.old)
	dest.Ledger.SetTotalFolders(total)

	startSummary := backend.Summary{SessionStart: now, FoldersTotal: total}
	if err := backend.WriteSummary(o.cfg.SummaryDir, dest.Name, startSummary); err != nil {
		o.logger.Warn("writing session summary", "error", err)
	}

	if err := dest.Backend.Begin(); err != nil {
		o.logger.Warn("backend unavailable", "destination", dest.Name, "error", err)
		return sessionOutcome{Err: err, FoldersTotal: total}
	}
	defer dest.Backend.End()

	o.bud.Start(o.cfg.Access)

	s := &session{o: o, dest: dest, root: root, now: now}

	freshResult := s.uploadFolders(inv.fresh)

	// The old-data phase only runs when the window permits it and the
	// fresh phase left budget on the table. A fresh-phase overrun already
	// consumed the access window, so the backlog waits for the next cycle.
	oldEligible := len(inv.old) > 0 && o.policy.CanUploadOldData()
	oldResult := phaseComplete
	if oldEligible {
		if freshResult != phaseComplete {
			oldResult = freshResult
		} else {
			oldResult = s.uploadFolders(inv.old)
		}
	}

	// Folders the window excluded are not part of this session's goal.
	eligibleTotal := len(inv.fresh)
	if oldEligible {
		eligibleTotal += len(inv.old)
	}

	// Mandatory finalize: identification and settings files travel on
	// every session that did any import work, and the access timer never
	// gates them.
	finalizeOK := true
	if s.files > 0 || s.foldersDone > 0 {
		finalizeOK = s.uploadMandatory()
	}

	dest.Ledger.SetLastUpload(o.now())
	if err := dest.Ledger.Save(); err != nil {
		o.logger.Error("saving ledger", "destination", dest.Name, "error", err)
	}

	out := sessionOutcome{
		FoldersDone:  s.foldersDone,
		FoldersTotal: total,
		FoldersEmpty: s.foldersEmpty,
		Files:        s.files,
		Bytes:        s.bytes,
		TimedOut:     freshResult == phaseTimeout || oldResult == phaseTimeout,
		Err:          s.firstErr,
	}
	out.FullSuccess = finalizeOK &&
		freshResult == phaseComplete && oldResult == phaseComplete &&
		s.firstErr == nil &&
		out.FoldersDone+out.FoldersEmpty >= eligibleTotal

	endSummary := backend.Summary{
		SessionStart: now,
		FoldersDone:  out.FoldersDone,
		FoldersTotal: total,
		FoldersEmpty: out.FoldersEmpty,
	}
	if err := backend.WriteSummary(o.cfg.SummaryDir, dest.Name, endSummary); err != nil {
		o.logger.Warn("writing session summary", "error", err)
	}

	o.logger.Info("session finished",
		"destination", dest.Name,
		"result", out.result(),
		"folders_done", out.FoldersDone,
		"folders_total", total,
		"files", out.Files,
		"bytes", out.Bytes)
	return out
}

// session accumulates per-session counters across the three phases.
type session struct {
	o    *Orchestrator
	dest *Destination
	root string
	now  time.Time

	foldersDone  int
	foldersEmpty int
	files        int
	bytes        int64

	consecutiveFailures int
	firstErr            error
}

// uploadFolders runs one phase over an ordered folder list. The access
// timer is checked between items, never mid-file.
func (s *session) uploadFolders(folders []dayFolder) phaseResult {
	for _, folder := range folders {
		if s.o.monitorReq.Load() {
			return phaseInterrupted
		}
		if s.o.bud.Exhausted() {
			return phaseTimeout
		}
		if s.consecutiveFailures >= consecutiveFailureLimit {
			s.o.logger.Warn("stopping session early after consecutive folder failures",
				"failures", s.consecutiveFailures)
			return phaseError
		}

		res := s.uploadFolder(folder)
		if res == phaseTimeout || res == phaseInterrupted {
			return res
		}

		if err := s.dest.Ledger.Save(); err != nil {
			s.o.logger.Error("saving ledger", "error", err)
		}
	}
	return phaseComplete
}

func (s *session) uploadFolder(folder dayFolder) phaseResult {
	l := s.dest.Ledger

	if folder.empty() {
		s.handleEmptyFolder(folder.day)
		return phaseComplete
	}

	// Retry ceiling: a folder that kept failing is skipped this session
	// and gets a clean slate next cycle.
	if l.RetryFolder() == folder.day && l.RetryCount() >= s.o.cfg.MaxRetryAttempts {
		s.o.logger.Warn("folder over retry ceiling, deferring to next cycle",
			"day", folder.day, "attempts", l.RetryCount())
		l.ClearRetry()
		return phaseComplete
	}

	uploaded := 0
	for _, file := range folder.files {
		if file.size == 0 {
			// Zero-length recordings are fingerprinted so they stop
			// showing up as pending work.
			if l.IsFileChanged(file.rel, 0, "") {
				l.MarkFileTransferred(file.rel, 0, "")
			}
			continue
		}
		if !l.IsFileChanged(file.rel, file.size, "") {
			continue
		}
		if s.o.monitorReq.Load() {
			return phaseInterrupted
		}
		if s.o.bud.Exhausted() || !s.o.bud.Fits(file.size) {
			return phaseTimeout
		}

		start := s.o.now()
		n, err := s.dest.Backend.Upload(file.abs, file.rel)
		if err != nil {
			s.folderFailed(folder.day, file.rel, err)
			return phaseError
		}
		s.o.bud.Record(n, s.o.now().Sub(start))
		l.MarkFileTransferred(file.rel, file.size, "")
		s.files++
		s.bytes += n
		uploaded++
	}

	s.consecutiveFailures = 0
	if !l.IsFolderCompleted(folder.day) {
		l.MarkFolderCompleted(folder.day)
	}
	s.foldersDone++
	if uploaded > 0 {
		s.o.logger.Info("folder uploaded", "day", folder.day, "files", uploaded)
	}
	return phaseComplete
}

// handleEmptyFolder walks an empty day through the pending lifecycle: mark
// it pending on first sight, promote it to completed once it has stayed
// empty past the grace period.
func (s *session) handleEmptyFolder(day string) {
	l := s.dest.Ledger
	if l.IsFolderCompleted(day) {
		s.foldersEmpty++
		return
	}
	if !l.IsPendingFolder(day) {
		l.MarkFolderPending(day, s.now)
	} else if l.ShouldPromotePendingToCompleted(day, s.now) {
		l.PromotePendingToCompleted(day)
		s.o.logger.Info("empty folder aged out, marked completed", "day", day)
	}
	s.foldersEmpty++
}

func (s *session) folderFailed(day, file string, err error) {
	s.o.logger.Warn("folder upload failed", "day", day, "file", file, "error", err)
	l := s.dest.Ledger
	if l.RetryFolder() != day {
		l.SetRetryFolder(day)
	}
	l.IncrementRetry()
	s.consecutiveFailures++
	if s.firstErr == nil {
		s.firstErr = err
	}
}

// uploadMandatory is the finalize phase: the root identification artifacts
// go every time, settings files only when their content hash moved.
func (s *session) uploadMandatory() bool {
	ok := true
	l := s.dest.Ledger

	for _, file := range scanMandatory(s.root) {
		hash, err := ledger.HashFile(file.abs)
		if err != nil {
			s.o.logger.Warn("hashing mandatory file", "file", file.rel, "error", err)
			hash = ""
		}
		if !s.uploadTracked(file, hash) {
			ok = false
		}
	}

	for _, file := range scanSettings(s.root) {
		hash, err := ledger.HashFile(file.abs)
		if err != nil {
			s.o.logger.Warn("hashing settings file", "file", file.rel, "error", err)
			continue
		}
		if !l.IsFileChanged(file.rel, file.size, hash) {
			continue
		}
		if !s.uploadTracked(file, hash) {
			ok = false
		}
	}
	return ok
}

func (s *session) uploadTracked(file cardFile, hash string) bool {
	n, err := s.dest.Backend.Upload(file.abs, file.rel)
	if err != nil {
		s.o.logger.Warn("mandatory upload failed", "file", file.rel, "error", err)
		if s.firstErr == nil && !errors.Is(err, backend.ErrUnavailable) {
			s.firstErr = err
		}
		return false
	}
	s.dest.Ledger.MarkFileTransferred(file.rel, file.size, hash)
	s.files++
	s.bytes += n
	return true
}
