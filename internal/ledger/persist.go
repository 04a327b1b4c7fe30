package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Compaction thresholds. Rewriting the snapshot is the expensive operation
// (and the flash-wearing one), so the journal is allowed to grow well past
// the snapshot before being folded in. Either bound triggers.
const (
	journalMaxLines = 1024
	journalMaxBytes = 128 * 1024
)

func (l *Ledger) snapshotPath() string {
	return filepath.Join(l.dir, l.dest+".state")
}

func (l *Ledger) journalPath() string {
	return filepath.Join(l.dir, l.dest+".journal")
}

// Save flushes queued mutations to the journal with a single append and
// fsync. Cost is O(queued events), not O(total state); the snapshot is only
// rewritten when the journal crosses a compaction threshold.
func (l *Ledger) Save() error {
	if len(l.queue) == 0 {
		return nil
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	f, err := os.OpenFile(l.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	var written int64
	w := bufio.NewWriter(f)
	for _, e := range l.queue {
		n, err := fmt.Fprintln(w, e.encode())
		if err != nil {
			f.Close()
			return fmt.Errorf("appending journal record: %w", err)
		}
		written += int64(n)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}

	l.journalLines += len(l.queue)
	l.journalBytes += written
	l.queue = l.queue[:0]

	if l.journalLines > journalMaxLines || l.journalBytes > journalMaxBytes {
		if err := l.Compact(); err != nil {
			return fmt.Errorf("compacting: %w", err)
		}
	}
	return nil
}

// Compact rewrites the snapshot from current memory and truncates the
// journal. The snapshot is written to a temp file, synced, then renamed, so
// a power cut leaves either the old or the new snapshot intact.
func (l *Ledger) Compact() error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp := l.snapshotPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "V|%d|%d\n", snapshotVersion, l.lastUpload)
	for _, day := range sortedKeys(l.completed) {
		fmt.Fprintf(w, "F|%s\n", day)
	}
	for _, day := range sortedKeysI64(l.pending) {
		fmt.Fprintf(w, "P|%s|%d\n", day, l.pending[day])
	}
	for _, fp := range l.sortedFingerprints() {
		fmt.Fprintf(w, "H|%s\n", encodeFingerprint(fp))
	}
	if l.retryDay != "" || l.retryCount != 0 {
		fmt.Fprintf(w, "R|%s|%d\n", l.retryDay, l.retryCount)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp, l.snapshotPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing snapshot: %w", err)
	}

	// The journal's contents are now folded into the snapshot.
	if err := os.Remove(l.journalPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncating journal: %w", err)
	}
	l.journalLines = 0
	l.journalBytes = 0

	l.logger.Debug("ledger compacted",
		"destination", l.dest,
		"completed", len(l.completed),
		"pending", len(l.pending),
		"files", len(l.files),
	)
	return nil
}

// Load replays the snapshot and then the journal. Malformed lines are
// skipped individually; missing files mean a fresh start. Only I/O errors
// on existing files are reported, and even then the caller is expected to
// continue with whatever state was recovered.
func (l *Ledger) Load() error {
	l.completed = make(map[string]struct{})
	l.pending = make(map[string]int64)
	l.files = make(map[uint64]Fingerprint)
	l.retryDay = ""
	l.retryCount = 0
	l.lastUpload = 0
	l.queue = l.queue[:0]
	l.journalLines = 0
	l.journalBytes = 0

	if err := l.replayFile(l.snapshotPath(), decodeSnapshotLine, false); err != nil {
		return err
	}
	if err := l.replayFile(l.journalPath(), decodeEvent, true); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) replayFile(path string, decode func(string) (event, error), countJournal bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := decode(line)
		if err != nil {
			skipped++
			continue
		}
		l.apply(e)
		if countJournal {
			l.journalLines++
			l.journalBytes += int64(len(line)) + 1
		}
	}
	if skipped > 0 {
		l.logger.Warn("skipped unparseable ledger lines",
			"destination", l.dest, "file", filepath.Base(path), "lines", skipped)
	}
	if err := scanner.Err(); err != nil {
		// A short or torn read recovers everything before the damage.
		l.logger.Warn("ledger file truncated mid-read, keeping recovered records",
			"destination", l.dest, "file", filepath.Base(path), "error", err)
	}
	return nil
}

func (l *Ledger) sortedFingerprints() []Fingerprint {
	out := make([]Fingerprint, 0, len(l.files))
	for _, fp := range l.files {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathHash < out[j].PathHash })
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysI64(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
