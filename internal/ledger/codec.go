package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// The on-disk grammar is pipe-delimited text, one record per line.
//
// Snapshot records:
//
//	V|1|<lastUploadUnix>          header: format version and timestamp
//	F|<day>                       completed day folder
//	P|<day>|<firstSeenUnix>       pending day folder
//	H|<pathHashHex>|<size>|<md5>  file fingerprint ("-" = size-only)
//	R|<day>|<count>               current retry slot
//
// Journal records reuse the type tags behind a verb prefix:
//
//	+F|<day>   -F|<day>
//	+P|<day>|<ts>   -P|<day>
//	=H|<pathHashHex>|<size>|<md5>
//	=R|<day>|<count>
//	=T|<unix>
//
// Lines that fail to parse are skipped individually; a torn tail from a
// power cut must never poison the records before it.

const (
	opAdd    = '+'
	opRemove = '-'
	opSet    = '='

	kindFolder  = 'F'
	kindPending = 'P'
	kindFile    = 'H'
	kindRetry   = 'R'
	kindStamp   = 'T'
)

const snapshotVersion = 1

// event is one ledger mutation: the unit of the journal.
type event struct {
	op    byte
	kind  byte
	day   string
	ts    int64
	count int
	fp    Fingerprint
}

// encode renders the event as a journal line (without newline).
func (e event) encode() string {
	switch e.kind {
	case kindFolder:
		return fmt.Sprintf("%cF|%s", e.op, e.day)
	case kindPending:
		if e.op == opRemove {
			return fmt.Sprintf("-P|%s", e.day)
		}
		return fmt.Sprintf("+P|%s|%d", e.day, e.ts)
	case kindFile:
		return "=H|" + encodeFingerprint(e.fp)
	case kindRetry:
		return fmt.Sprintf("=R|%s|%d", e.day, e.count)
	case kindStamp:
		return fmt.Sprintf("=T|%d", e.ts)
	}
	return ""
}

// decodeEvent parses one journal line.
func decodeEvent(line string) (event, error) {
	parts := strings.Split(line, "|")
	tag := parts[0]
	if len(tag) != 2 {
		return event{}, fmt.Errorf("journal tag %q", tag)
	}
	op, kind := tag[0], tag[1]
	if op != opAdd && op != opRemove && op != opSet {
		return event{}, fmt.Errorf("journal verb %q", tag)
	}

	switch kind {
	case kindFolder:
		if len(parts) != 2 || parts[1] == "" {
			return event{}, fmt.Errorf("folder record %q", line)
		}
		return event{op: op, kind: kindFolder, day: parts[1]}, nil
	case kindPending:
		if op == opRemove {
			if len(parts) != 2 || parts[1] == "" {
				return event{}, fmt.Errorf("pending record %q", line)
			}
			return event{op: op, kind: kindPending, day: parts[1]}, nil
		}
		if len(parts) != 3 {
			return event{}, fmt.Errorf("pending record %q", line)
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return event{}, fmt.Errorf("pending timestamp %q: %w", parts[2], err)
		}
		return event{op: op, kind: kindPending, day: parts[1], ts: ts}, nil
	case kindFile:
		fp, err := decodeFingerprint(parts[1:])
		if err != nil {
			return event{}, err
		}
		return event{op: opSet, kind: kindFile, fp: fp}, nil
	case kindRetry:
		if len(parts) != 3 {
			return event{}, fmt.Errorf("retry record %q", line)
		}
		count, err := strconv.Atoi(parts[2])
		if err != nil {
			return event{}, fmt.Errorf("retry count %q: %w", parts[2], err)
		}
		return event{op: opSet, kind: kindRetry, day: parts[1], count: count}, nil
	case kindStamp:
		if len(parts) != 2 {
			return event{}, fmt.Errorf("timestamp record %q", line)
		}
		ts, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return event{}, fmt.Errorf("timestamp %q: %w", parts[1], err)
		}
		return event{op: opSet, kind: kindStamp, ts: ts}, nil
	}
	return event{}, fmt.Errorf("journal kind %q", tag)
}

// decodeSnapshotLine parses one snapshot record into the equivalent event.
// The V header is returned as a kindStamp event carrying lastUpload.
func decodeSnapshotLine(line string) (event, error) {
	parts := strings.Split(line, "|")
	switch parts[0] {
	case "V":
		if len(parts) != 3 {
			return event{}, fmt.Errorf("header %q", line)
		}
		// Unknown versions are loaded best-effort rather than refused.
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return event{}, fmt.Errorf("header timestamp %q: %w", parts[2], err)
		}
		return event{op: opSet, kind: kindStamp, ts: ts}, nil
	case "F":
		if len(parts) != 2 || parts[1] == "" {
			return event{}, fmt.Errorf("folder record %q", line)
		}
		return event{op: opAdd, kind: kindFolder, day: parts[1]}, nil
	case "P":
		if len(parts) != 3 {
			return event{}, fmt.Errorf("pending record %q", line)
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return event{}, fmt.Errorf("pending timestamp %q: %w", parts[2], err)
		}
		return event{op: opAdd, kind: kindPending, day: parts[1], ts: ts}, nil
	case "H":
		fp, err := decodeFingerprint(parts[1:])
		if err != nil {
			return event{}, err
		}
		return event{op: opSet, kind: kindFile, fp: fp}, nil
	case "R":
		if len(parts) != 3 {
			return event{}, fmt.Errorf("retry record %q", line)
		}
		count, err := strconv.Atoi(parts[2])
		if err != nil {
			return event{}, fmt.Errorf("retry count %q: %w", parts[2], err)
		}
		return event{op: opSet, kind: kindRetry, day: parts[1], count: count}, nil
	}
	return event{}, fmt.Errorf("snapshot type %q", parts[0])
}

func encodeFingerprint(fp Fingerprint) string {
	hash := fp.Hash
	if hash == "" {
		hash = "-"
	}
	return fmt.Sprintf("%016x|%d|%s", fp.PathHash, fp.Size, hash)
}

func decodeFingerprint(parts []string) (Fingerprint, error) {
	if len(parts) != 3 {
		return Fingerprint{}, fmt.Errorf("fingerprint fields %v", parts)
	}
	pathHash, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint path hash %q: %w", parts[0], err)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint size %q: %w", parts[1], err)
	}
	hash := parts[2]
	if hash == "-" {
		hash = ""
	}
	return Fingerprint{PathHash: pathHash, Size: size, Hash: hash}, nil
}
