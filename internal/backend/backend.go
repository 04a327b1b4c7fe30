// Package backend abstracts upload destinations. A Backend moves single
// files; sessions, retries, and bookkeeping belong to the orchestrator.
package backend

import "errors"

// ErrUnavailable is returned by Begin when the destination cannot be
// reached. The orchestrator skips the destination for the session.
var ErrUnavailable = errors.New("backend unavailable")

// Backend is one upload destination. Begin opens a session, Upload moves a
// single file and reports bytes written, End closes the session. Remote
// paths use forward slashes relative to the destination root, mirroring
// the card layout (DATALOG/20260815/xxx.edf, SETTINGS/..., STR.edf).
type Backend interface {
	Name() string
	Begin() error
	Upload(localPath, remotePath string) (int64, error)
	End()
}
