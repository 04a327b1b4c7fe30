package backend

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestShareUpload(t *testing.T) {
	root := t.TempDir()
	src := writeFile(t, t.TempDir(), "a.edf", "therapy data")

	s := NewShare("nas", root, testLogger())
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	n, err := s.Upload(src, "DATALOG/20260815/a.edf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if n != int64(len("therapy data")) {
		t.Fatalf("bytes = %d, want %d", n, len("therapy data"))
	}

	got, err := os.ReadFile(filepath.Join(root, "DATALOG", "20260815", "a.edf"))
	if err != nil {
		t.Fatalf("reading uploaded file: %v", err)
	}
	if string(got) != "therapy data" {
		t.Fatalf("content = %q", got)
	}

	// No .part leftovers.
	entries, _ := os.ReadDir(filepath.Join(root, "DATALOG", "20260815"))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".part" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestShareBeginMissingRoot(t *testing.T) {
	s := NewShare("nas", filepath.Join(t.TempDir(), "gone"), testLogger())
	err := s.Begin()
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Begin on missing root = %v, want ErrUnavailable", err)
	}
}

func TestShareUploadMissingSource(t *testing.T) {
	s := NewShare("nas", t.TempDir(), testLogger())
	if _, err := s.Upload(filepath.Join(t.TempDir(), "nope.edf"), "STR.edf"); err == nil {
		t.Fatal("upload of missing source succeeded")
	}
}

func TestHTTPUpload(t *testing.T) {
	var gotPath, gotUser, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	src := writeFile(t, t.TempDir(), "STR.edf", "summary records")

	b, err := NewHTTP("import", srv.URL, "cpap", "secret", testLogger())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	if err := b.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	n, err := b.Upload(src, "DATALOG/20260815/STR.edf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if n != int64(len("summary records")) {
		t.Fatalf("bytes = %d", n)
	}
	if gotPath != "/DATALOG/20260815/STR.edf" {
		t.Fatalf("server saw path %q", gotPath)
	}
	if gotUser != "cpap" {
		t.Fatalf("server saw user %q", gotUser)
	}
	if gotBody != "summary records" {
		t.Fatalf("server saw body %q", gotBody)
	}
}

func TestHTTPUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	src := writeFile(t, t.TempDir(), "a.edf", "x")
	b, err := NewHTTP("import", srv.URL, "u", "p", testLogger())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	if _, err := b.Upload(src, "a.edf"); err == nil {
		t.Fatal("403 response did not produce an error")
	}
}

func TestHTTPBeginUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately, so the port refuses connections

	b, err := NewHTTP("import", srv.URL, "u", "p", testLogger())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	if err := b.Begin(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Begin against closed server = %v, want ErrUnavailable", err)
	}
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	if _, err := NewHTTP("x", "ftp://host/import", "u", "p", testLogger()); err == nil {
		t.Fatal("accepted ftp scheme")
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Summary{
		SessionStart: time.Unix(1_760_000_000, 0),
		FoldersDone:  7,
		FoldersTotal: 10,
		FoldersEmpty: 3,
	}
	if err := WriteSummary(dir, "nas", want); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	got := ReadSummary(dir, "nas")
	if !got.SessionStart.Equal(want.SessionStart) || got.FoldersDone != want.FoldersDone ||
		got.FoldersTotal != want.FoldersTotal || got.FoldersEmpty != want.FoldersEmpty {
		t.Fatalf("ReadSummary = %+v, want %+v", got, want)
	}
	if !got.Complete() {
		t.Fatal("7 done + 3 empty of 10 should be complete")
	}
}

func TestSummaryMissingOrMalformed(t *testing.T) {
	dir := t.TempDir()
	if s := ReadSummary(dir, "nas"); !s.SessionStart.IsZero() && s.SessionStart.Unix() != 0 {
		t.Fatalf("missing summary = %+v, want zero", s)
	}
	if err := os.WriteFile(filepath.Join(dir, "nas.session"), []byte("not,a,summary\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := ReadSummary(dir, "nas")
	if s.FoldersTotal != 0 || s.Complete() {
		t.Fatalf("malformed summary = %+v, want zero", s)
	}
}
