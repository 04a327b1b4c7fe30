package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Summary is the last-session record kept per destination. The orchestrator
// writes it when a session starts and again when it ends, and reads the set
// of summaries to pick the destination that has waited longest.
type Summary struct {
	SessionStart time.Time
	FoldersDone  int
	FoldersTotal int
	FoldersEmpty int
}

// Complete reports whether the recorded session covered every folder.
func (s Summary) Complete() bool {
	return s.FoldersTotal > 0 && s.FoldersDone+s.FoldersEmpty >= s.FoldersTotal
}

func summaryPath(dir, dest string) string {
	return filepath.Join(dir, dest+".session")
}

// WriteSummary persists a destination's session record as a single CSV
// line: unix start, done, total, empty.
func WriteSummary(dir, dest string, s Summary) error {
	line := fmt.Sprintf("%d,%d,%d,%d\n",
		s.SessionStart.Unix(), s.FoldersDone, s.FoldersTotal, s.FoldersEmpty)
	if err := os.WriteFile(summaryPath(dir, dest), []byte(line), 0o644); err != nil {
		return fmt.Errorf("writing session summary: %w", err)
	}
	return nil
}

// ReadSummary loads a destination's session record. A missing or malformed
// file yields a zero Summary, which sorts as "never uploaded" and therefore
// first in destination cycling.
func ReadSummary(dir, dest string) Summary {
	raw, err := os.ReadFile(summaryPath(dir, dest))
	if err != nil {
		return Summary{}
	}
	parts := strings.Split(strings.TrimSpace(string(raw)), ",")
	if len(parts) != 4 {
		return Summary{}
	}
	nums := make([]int64, 4)
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Summary{}
		}
		nums[i] = n
	}
	return Summary{
		SessionStart: time.Unix(nums[0], 0),
		FoldersDone:  int(nums[1]),
		FoldersTotal: int(nums[2]),
		FoldersEmpty: int(nums[3]),
	}
}
