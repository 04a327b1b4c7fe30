package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "cloud", testLogger())

	const (
		nCompleted = 40
		nPending   = 15
		nFiles     = 60
	)

	for i := 0; i < nCompleted; i++ {
		l.MarkFolderCompleted(fmt.Sprintf("202607%02d", i+1))
	}
	for i := 0; i < nPending; i++ {
		l.MarkFolderPending(fmt.Sprintf("202608%02d", i+1), time.Unix(int64(1_760_000_000+i), 0))
	}
	for i := 0; i < nFiles; i++ {
		hash := ""
		if i%3 == 0 {
			hash = fmt.Sprintf("%032x", i)
		}
		l.MarkFileTransferred(fmt.Sprintf("/DATALOG/20260801/file%03d.edf", i), int64(1000+i), hash)
	}
	l.SetRetryFolder("20260815")
	l.IncrementRetry()
	l.SetLastUpload(time.Unix(1_760_123_456, 0))

	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := New(dir, "cloud", testLogger())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if reloaded.CompletedCount() != nCompleted {
		t.Fatalf("completed = %d, want %d", reloaded.CompletedCount(), nCompleted)
	}
	if reloaded.PendingCount() != nPending {
		t.Fatalf("pending = %d, want %d", reloaded.PendingCount(), nPending)
	}
	if reloaded.TrackedFileCount() != nFiles {
		t.Fatalf("files = %d, want %d", reloaded.TrackedFileCount(), nFiles)
	}
	for i := 0; i < nCompleted; i++ {
		day := fmt.Sprintf("202607%02d", i+1)
		if !reloaded.IsFolderCompleted(day) {
			t.Fatalf("folder %s lost across reload", day)
		}
	}
	for i := 0; i < nFiles; i++ {
		path := fmt.Sprintf("/DATALOG/20260801/file%03d.edf", i)
		if reloaded.IsFileChanged(path, int64(1000+i), "") {
			t.Fatalf("fingerprint for %s lost across reload", path)
		}
	}
	if reloaded.RetryFolder() != "20260815" || reloaded.RetryCount() != 1 {
		t.Fatalf("retry slot = %q/%d, want 20260815/1", reloaded.RetryFolder(), reloaded.RetryCount())
	}
	if !reloaded.LastUpload().Equal(time.Unix(1_760_123_456, 0)) {
		t.Fatalf("last upload = %v", reloaded.LastUpload())
	}
}

func TestSaveIsIncremental(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "share", testLogger())

	l.MarkFolderCompleted("20260801")
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := os.ReadFile(l.journalPath())
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}

	l.MarkFolderCompleted("20260802")
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := os.ReadFile(l.journalPath())
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}

	if !strings.HasPrefix(string(second), string(first)) {
		t.Fatal("second save rewrote the journal instead of appending")
	}
	if strings.Count(string(second), "\n") != 2 {
		t.Fatalf("journal has %d lines, want 2", strings.Count(string(second), "\n"))
	}
}

func TestSaveWithEmptyQueueIsNoop(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "share", testLogger())
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(l.journalPath()); !os.IsNotExist(err) {
		t.Fatal("empty save created a journal file")
	}
}

func TestJournalTruncationRecoversPrefix(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "share", testLogger())

	days := []string{"20260801", "20260802", "20260803", "20260804", "20260805"}
	for _, day := range days {
		l.MarkFolderCompleted(day)
	}
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(l.journalPath())
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}

	// Truncate at every byte offset; loading must never fail and must
	// recover every record whose line was fully written.
	for cut := 0; cut <= len(raw); cut++ {
		if err := os.WriteFile(l.journalPath(), raw[:cut], 0644); err != nil {
			t.Fatalf("truncating journal: %v", err)
		}

		reloaded := New(dir, "share", testLogger())
		if err := reloaded.Load(); err != nil {
			t.Fatalf("Load after truncation at %d: %v", cut, err)
		}

		fullLines := strings.Count(string(raw[:cut]), "\n")
		for i := 0; i < fullLines; i++ {
			if !reloaded.IsFolderCompleted(days[i]) {
				t.Fatalf("truncation at %d lost fully written record %s", cut, days[i])
			}
		}
	}
}

func TestLoadSkipsCorruptedLines(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "share", testLogger())

	journal := strings.Join([]string{
		"+F|20260801",
		"garbage line with no delimiter",
		"+P|20260802|not-a-number",
		"+F|20260803",
		"", // blank lines are ignored
		"+F|2026", // short but well-formed day keys are the scanner's problem, accepted
	}, "\n") + "\n"
	if err := os.WriteFile(l.journalPath(), []byte(journal), 0644); err != nil {
		t.Fatalf("writing journal: %v", err)
	}

	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l.IsFolderCompleted("20260801") || !l.IsFolderCompleted("20260803") {
		t.Fatal("valid records around corrupted lines were lost")
	}
	if l.IsPendingFolder("20260802") {
		t.Fatal("corrupted pending record was applied")
	}
}

func TestLoadMissingFilesStartsEmpty(t *testing.T) {
	l := New(t.TempDir(), "share", testLogger())
	if err := l.Load(); err != nil {
		t.Fatalf("Load with no files: %v", err)
	}
	if l.CompletedCount() != 0 || l.PendingCount() != 0 || l.TrackedFileCount() != 0 {
		t.Fatal("expected empty state")
	}
}

func TestCompactionFoldsJournalIntoSnapshot(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "share", testLogger())

	l.MarkFolderCompleted("20260801")
	l.MarkFileTransferred("/DATALOG/20260801/a.edf", 123, "")
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := l.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if _, err := os.Stat(l.journalPath()); !os.IsNotExist(err) {
		t.Fatal("journal not truncated after compaction")
	}
	if _, err := os.Stat(l.snapshotPath()); err != nil {
		t.Fatalf("snapshot missing after compaction: %v", err)
	}

	reloaded := New(dir, "share", testLogger())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reloaded.IsFolderCompleted("20260801") {
		t.Fatal("completed folder lost in compaction")
	}
	if reloaded.IsFileChanged("/DATALOG/20260801/a.edf", 123, "") {
		t.Fatal("fingerprint lost in compaction")
	}
}

func TestCompactionTriggersOnLineThreshold(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "share", testLogger())

	// Push past the line threshold in batches; the over-threshold save
	// must compact automatically.
	for i := 0; i <= journalMaxLines; i++ {
		l.MarkFileTransferred(fmt.Sprintf("/DATALOG/20260801/f%05d.edf", i), int64(i), "")
		if i%100 == 0 {
			if err := l.Save(); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
	}
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(l.snapshotPath()); err != nil {
		t.Fatal("snapshot not written by automatic compaction")
	}
	if _, err := os.Stat(l.journalPath()); !os.IsNotExist(err) {
		t.Fatal("journal not truncated by automatic compaction")
	}

	reloaded := New(dir, "share", testLogger())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.TrackedFileCount(); got != journalMaxLines+1 {
		t.Fatalf("tracked files = %d, want %d", got, journalMaxLines+1)
	}
}

func TestSnapshotTempFileCleanedUp(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "share", testLogger())
	l.MarkFolderCompleted("20260801")
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := l.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "share.state.tmp")); !os.IsNotExist(err) {
		t.Fatal("snapshot temp file left behind")
	}
}
