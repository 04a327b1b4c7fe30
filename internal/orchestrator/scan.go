package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Card layout written by the therapy device. Day folders live under
// DATALOG/ named YYYYMMDD; identification artifacts sit at the root and
// must accompany every import for the destination to accept the batch.
const (
	datalogDir  = "DATALOG"
	settingsDir = "SETTINGS"
)

// mandatoryFiles are uploaded on every finalize, regardless of the
// exclusive-access timer.
var mandatoryFiles = []string{
	"Identification.json",
	"Identification.crc",
	"Identification.tgt",
	"STR.edf",
}

type cardFile struct {
	// rel is the slash-separated path relative to the card root, which
	// doubles as the remote path.
	rel  string
	abs  string
	size int64
}

type dayFolder struct {
	day   string // YYYYMMDD
	files []cardFile
}

func (f dayFolder) empty() bool { return len(f.files) == 0 }

// inventory is the result of one storage-only card scan.
type inventory struct {
	fresh []dayFolder // newest first
	old   []dayFolder // newest first
	// mandatory and settings are scanned lazily during finalize; the
	// inventory only records the day folders that drive eligibility.
}

func validDayKey(name string) bool {
	if len(name) != 8 {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// scanCard enumerates DATALOG day folders and partitions them by age.
// Folders newer than recentDays are fresh, folders within maxDays are old,
// anything older is outside the transfer horizon and ignored. A missing
// DATALOG directory yields an empty inventory, not an error: a freshly
// formatted card simply has nothing to upload yet.
func scanCard(root string, now time.Time, recentDays, maxDays int) (inventory, error) {
	var inv inventory

	entries, err := os.ReadDir(filepath.Join(root, datalogDir))
	if err != nil {
		if os.IsNotExist(err) {
			return inv, nil
		}
		return inv, fmt.Errorf("reading %s: %w", datalogDir, err)
	}

	recentCutoff := now.AddDate(0, 0, -recentDays).Format("20060102")
	maxCutoff := now.AddDate(0, 0, -maxDays).Format("20060102")

	var days []string
	for _, e := range entries {
		if !e.IsDir() || !validDayKey(e.Name()) {
			continue
		}
		if e.Name() < maxCutoff {
			continue
		}
		days = append(days, e.Name())
	}
	// Newest first: fresh data is the most valuable and uploads before the
	// session timer bites.
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	for _, day := range days {
		folder, err := scanDayFolder(root, day)
		if err != nil {
			return inv, err
		}
		if day >= recentCutoff {
			inv.fresh = append(inv.fresh, folder)
		} else {
			inv.old = append(inv.old, folder)
		}
	}
	return inv, nil
}

// scanDayFolder lists the therapy recordings (.edf) inside one day folder.
func scanDayFolder(root, day string) (dayFolder, error) {
	folder := dayFolder{day: day}
	dir := filepath.Join(root, datalogDir, day)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return folder, fmt.Errorf("reading day folder %s: %w", day, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), ".edf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		folder.files = append(folder.files, cardFile{
			rel:  datalogDir + "/" + day + "/" + e.Name(),
			abs:  filepath.Join(dir, e.Name()),
			size: info.Size(),
		})
	}
	sort.Slice(folder.files, func(i, j int) bool { return folder.files[i].rel < folder.files[j].rel })
	return folder, nil
}

// scanSettings lists every regular file under SETTINGS/. The whole
// directory is tracked so both legacy and current settings layouts travel.
func scanSettings(root string) []cardFile {
	var files []cardFile
	entries, err := os.ReadDir(filepath.Join(root, settingsDir))
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, cardFile{
			rel:  settingsDir + "/" + e.Name(),
			abs:  filepath.Join(root, settingsDir, e.Name()),
			size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files
}

// scanMandatory stats the root identification artifacts. Missing ones are
// skipped; a card without Identification files is unusual but must not
// block the data folders from travelling.
func scanMandatory(root string) []cardFile {
	var files []cardFile
	for _, name := range mandatoryFiles {
		abs := filepath.Join(root, name)
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, cardFile{rel: name, abs: abs, size: info.Size()})
	}
	return files
}
