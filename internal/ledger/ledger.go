// Package ledger is the durable record of what has already been transferred
// to one destination. Day folders move Unseen -> Pending -> Completed (or
// straight to Completed once their content is uploaded); individual files
// are tracked by fingerprint so unchanged content is never re-sent.
//
// State is held in memory and persisted as a snapshot plus an append-only
// journal; see persist.go. Each destination gets its own independent Ledger.
package ledger

import (
	"hash/fnv"
	"log/slog"
	"time"
)

// PendingPromotionAge is how long an empty day folder stays pending before
// it is promoted to completed. Fixed for now; make it configurable if a
// device family shows up that back-fills data later than a week.
const PendingPromotionAge = 7 * 24 * time.Hour

// Fingerprint identifies one transferred file. Hash is the hex md5 of the
// content for files that must be guaranteed (identification, settings), or
// empty for the cheap size-only strategy used on frequently-growing data
// files.
type Fingerprint struct {
	PathHash uint64
	Size     int64
	Hash     string
}

// Ledger tracks upload progress for a single destination. It is owned and
// mutated only by the orchestrator during a session; it is not safe for
// concurrent use.
type Ledger struct {
	dir    string
	dest   string
	logger *slog.Logger

	lastUpload int64 // unix seconds, 0 = never
	completed  map[string]struct{}
	pending    map[string]int64 // day key -> first-seen unix seconds
	files      map[uint64]Fingerprint

	retryDay   string
	retryCount int

	totalFolders int // set by the last scan, not persisted

	queue        []event
	journalLines int
	journalBytes int64
}

// New creates an empty ledger for the named destination, persisted under
// dir. Call Load to replay any existing snapshot and journal.
func New(dir, dest string, logger *slog.Logger) *Ledger {
	return &Ledger{
		dir:       dir,
		dest:      dest,
		logger:    logger,
		completed: make(map[string]struct{}),
		pending:   make(map[string]int64),
		files:     make(map[uint64]Fingerprint),
	}
}

// Destination returns the destination name this ledger tracks.
func (l *Ledger) Destination() string { return l.dest }

// ── Folder tracking ─────────────────────────────────────────────────────────

func (l *Ledger) IsFolderCompleted(day string) bool {
	_, ok := l.completed[day]
	return ok
}

// MarkFolderCompleted records the day as fully transferred. Any pending
// marker for the day is dropped (a day is never both pending and completed)
// and retry tracking for it is cleared.
func (l *Ledger) MarkFolderCompleted(day string) {
	if _, ok := l.completed[day]; ok {
		return
	}
	l.record(event{op: opAdd, kind: kindFolder, day: day})
	if l.retryDay == day {
		l.clearRetryLocked()
	}
}

// RemoveFolderFromCompleted forgets a completed day so the next session
// re-verifies and re-uploads it.
func (l *Ledger) RemoveFolderFromCompleted(day string) {
	if _, ok := l.completed[day]; !ok {
		return
	}
	l.record(event{op: opRemove, kind: kindFolder, day: day})
}

func (l *Ledger) IsPendingFolder(day string) bool {
	_, ok := l.pending[day]
	return ok
}

// MarkFolderPending records when an empty day folder was first observed.
// Completed days are never demoted to pending.
func (l *Ledger) MarkFolderPending(day string, now time.Time) {
	if _, ok := l.completed[day]; ok {
		return
	}
	if _, ok := l.pending[day]; ok {
		return
	}
	l.record(event{op: opAdd, kind: kindPending, day: day, ts: now.Unix()})
}

func (l *Ledger) RemoveFolderFromPending(day string) {
	if _, ok := l.pending[day]; !ok {
		return
	}
	l.record(event{op: opRemove, kind: kindPending, day: day})
}

// ShouldPromotePendingToCompleted reports whether the day has been pending
// for the full promotion age. Exactly at the boundary counts as elapsed.
func (l *Ledger) ShouldPromotePendingToCompleted(day string, now time.Time) bool {
	firstSeen, ok := l.pending[day]
	if !ok {
		return false
	}
	return now.Sub(time.Unix(firstSeen, 0)) >= PendingPromotionAge
}

// PromotePendingToCompleted moves a pending day straight to completed.
func (l *Ledger) PromotePendingToCompleted(day string) {
	if _, ok := l.pending[day]; !ok {
		return
	}
	l.record(event{op: opAdd, kind: kindFolder, day: day})
	l.logger.Info("promoted empty folder to completed", "destination", l.dest, "day", day)
}

func (l *Ledger) CompletedCount() int { return len(l.completed) }
func (l *Ledger) PendingCount() int   { return len(l.pending) }

// SetTotalFolders records how many eligible day folders the last scan saw,
// so IncompleteCount can be derived across cooldown cycles.
func (l *Ledger) SetTotalFolders(n int) { l.totalFolders = n }

func (l *Ledger) TotalFolders() int { return l.totalFolders }

// IncompleteCount returns how many scanned folders are neither completed
// nor pending. Zero until a scan has run.
func (l *Ledger) IncompleteCount() int {
	if l.totalFolders == 0 {
		return 0
	}
	n := l.totalFolders - len(l.completed) - len(l.pending)
	if n < 0 {
		return 0
	}
	return n
}

// ── File fingerprints ───────────────────────────────────────────────────────

// IsFileChanged reports whether the file at path differs from its recorded
// fingerprint. Unknown files count as changed. When both sides carry a
// content hash the hashes decide; otherwise sizes do.
func (l *Ledger) IsFileChanged(path string, size int64, hash string) bool {
	fp, ok := l.files[hashPath(path)]
	if !ok {
		return true
	}
	if fp.Hash != "" && hash != "" {
		return fp.Hash != hash
	}
	return fp.Size != size
}

// MarkFileTransferred upserts the fingerprint for a confirmed transfer.
// Pass an empty hash for size-only tracking.
func (l *Ledger) MarkFileTransferred(path string, size int64, hash string) {
	l.record(event{op: opSet, kind: kindFile, fp: Fingerprint{
		PathHash: hashPath(path),
		Size:     size,
		Hash:     hash,
	}})
}

// TrackedFileCount returns the number of stored fingerprints.
func (l *Ledger) TrackedFileCount() int { return len(l.files) }

// ── Retry tracking ──────────────────────────────────────────────────────────

// SetRetryFolder points the single retry slot at day, resetting the count
// when the day changes.
func (l *Ledger) SetRetryFolder(day string) {
	if l.retryDay == day {
		return
	}
	l.record(event{op: opSet, kind: kindRetry, day: day, count: 0})
}

func (l *Ledger) IncrementRetry() {
	l.record(event{op: opSet, kind: kindRetry, day: l.retryDay, count: l.retryCount + 1})
}

func (l *Ledger) ClearRetry() {
	if l.retryDay == "" && l.retryCount == 0 {
		return
	}
	l.record(event{op: opSet, kind: kindRetry, day: "", count: 0})
}

func (l *Ledger) RetryFolder() string { return l.retryDay }
func (l *Ledger) RetryCount() int     { return l.retryCount }

func (l *Ledger) clearRetryLocked() {
	l.record(event{op: opSet, kind: kindRetry, day: "", count: 0})
}

// ── Timestamps ──────────────────────────────────────────────────────────────

// LastUpload returns the time of the last fully recorded upload, or the
// zero time if none.
func (l *Ledger) LastUpload() time.Time {
	if l.lastUpload == 0 {
		return time.Time{}
	}
	return time.Unix(l.lastUpload, 0)
}

func (l *Ledger) SetLastUpload(t time.Time) {
	l.record(event{op: opSet, kind: kindStamp, ts: t.Unix()})
}

// record applies an event to memory and queues it for the journal.
func (l *Ledger) record(e event) {
	l.apply(e)
	l.queue = append(l.queue, e)
}

// apply mutates in-memory state. Used both for live mutations and for
// journal replay, so it must stay deterministic and tolerant.
func (l *Ledger) apply(e event) {
	switch e.kind {
	case kindFolder:
		if e.op == opRemove {
			delete(l.completed, e.day)
			return
		}
		l.completed[e.day] = struct{}{}
		delete(l.pending, e.day) // invariant: never pending and completed
	case kindPending:
		if e.op == opRemove {
			delete(l.pending, e.day)
			return
		}
		if _, done := l.completed[e.day]; done {
			return
		}
		l.pending[e.day] = e.ts
	case kindFile:
		l.files[e.fp.PathHash] = e.fp
	case kindRetry:
		l.retryDay = e.day
		l.retryCount = e.count
	case kindStamp:
		l.lastUpload = e.ts
	}
}

func hashPath(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return h.Sum64()
}
