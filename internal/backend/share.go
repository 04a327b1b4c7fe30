package backend

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ShareBackend copies files into a directory, typically an OS-mounted
// network share. Files land atomically: a sibling .part file is written,
// fsynced, then renamed over the final name so a reader on the share never
// observes a half-copied file.
type ShareBackend struct {
	name   string
	root   string
	logger *slog.Logger
}

func NewShare(name, root string, logger *slog.Logger) *ShareBackend {
	return &ShareBackend{
		name:   name,
		root:   root,
		logger: logger.With("backend", name),
	}
}

func (s *ShareBackend) Name() string { return s.name }

// Begin verifies the share root is present and writable. A missing or
// read-only root means the mount is gone, which is ErrUnavailable rather
// than a hard error.
func (s *ShareBackend) Begin() error {
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: share root %s: %v", ErrUnavailable, s.root, err)
	}
	probe, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: share root %s not writable: %v", ErrUnavailable, s.root, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func (s *ShareBackend) Upload(localPath, remotePath string) (int64, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("creating remote dir: %w", err)
	}

	in, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", tmp, err)
	}

	n, copyErr := io.Copy(out, in)
	syncErr := out.Sync()
	closeErr := out.Close()
	for _, err := range []error{copyErr, syncErr, closeErr} {
		if err != nil {
			os.Remove(tmp)
			return 0, fmt.Errorf("writing %s: %w", tmp, err)
		}
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("finalizing %s: %w", dst, err)
	}
	s.logger.Debug("file copied", "remote", remotePath, "bytes", n)
	return n, nil
}

func (s *ShareBackend) End() {}
