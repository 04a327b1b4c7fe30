package backend

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// HTTPBackend PUTs files against an import base URL with basic auth. One
// request per file; the remote path is appended to the base, so a server
// that accepts PUT /import/DATALOG/20260815/x.edf is all that is needed.
type HTTPBackend struct {
	name     string
	base     string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTP(name, baseURL, username, password string, logger *slog.Logger) (*HTTPBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %s: unsupported scheme %q", baseURL, u.Scheme)
	}
	return &HTTPBackend{
		name:     name,
		base:     strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.With("backend", name),
	}, nil
}

func (h *HTTPBackend) Name() string { return h.name }

// Begin probes the base URL. Any HTTP response counts as reachable; only
// transport failure marks the destination unavailable.
func (h *HTTPBackend) Begin() error {
	req, err := http.NewRequest(http.MethodHead, h.base+"/", nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.SetBasicAuth(h.username, h.password)
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	return nil
}

func (h *HTTPBackend) Upload(localPath, remotePath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", localPath, err)
	}

	target := h.base + "/" + url.PathEscape(remotePath)
	// PathEscape encodes the separators too; put them back.
	target = strings.ReplaceAll(target, "%2F", "/")

	req, err := http.NewRequest(http.MethodPut, target, f)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(h.username, h.password)
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", remotePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("put %s: server replied %s", remotePath, resp.Status)
	}
	h.logger.Debug("file uploaded", "remote", remotePath, "bytes", info.Size())
	return info.Size(), nil
}

func (h *HTTPBackend) End() {}
