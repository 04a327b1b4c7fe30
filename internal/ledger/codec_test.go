package ledger

import "testing"

func TestJournalEventRoundTrip(t *testing.T) {
	events := []event{
		{op: opAdd, kind: kindFolder, day: "20260815"},
		{op: opRemove, kind: kindFolder, day: "20260815"},
		{op: opAdd, kind: kindPending, day: "20260816", ts: 1760000000},
		{op: opRemove, kind: kindPending, day: "20260816"},
		{op: opSet, kind: kindFile, fp: Fingerprint{PathHash: 0xdeadbeef12345678, Size: 4096, Hash: "aabbccddeeff00112233445566778899"}},
		{op: opSet, kind: kindFile, fp: Fingerprint{PathHash: 1, Size: 0}},
		{op: opSet, kind: kindRetry, day: "20260815", count: 3},
		{op: opSet, kind: kindRetry, day: "", count: 0},
		{op: opSet, kind: kindStamp, ts: 1760012345},
	}

	for _, want := range events {
		line := want.encode()
		got, err := decodeEvent(line)
		if err != nil {
			t.Fatalf("decodeEvent(%q): %v", line, err)
		}
		if got != want {
			t.Fatalf("round trip %q: got %+v, want %+v", line, got, want)
		}
	}
}

func TestDecodeEventRejectsMalformed(t *testing.T) {
	lines := []string{
		"",
		"F|20260815",       // snapshot tag in journal
		"+X|20260815",      // unknown kind
		"*F|20260815",      // unknown verb
		"+P|20260816",      // missing timestamp
		"+P|20260816|soon", // non-numeric timestamp
		"=H|zz|4096|-",     // bad path hash
		"=H|0000000000000001|big|-",
		"=R|20260815",
		"=T|notatime",
		"+F|",
	}
	for _, line := range lines {
		if _, err := decodeEvent(line); err == nil {
			t.Errorf("decodeEvent(%q) accepted malformed line", line)
		}
	}
}

func TestDecodeSnapshotLine(t *testing.T) {
	cases := []struct {
		line string
		want event
	}{
		{"V|1|1760000000", event{op: opSet, kind: kindStamp, ts: 1760000000}},
		{"F|20260815", event{op: opAdd, kind: kindFolder, day: "20260815"}},
		{"P|20260816|1760000000", event{op: opAdd, kind: kindPending, day: "20260816", ts: 1760000000}},
		{"H|00000000deadbeef|512|-", event{op: opSet, kind: kindFile, fp: Fingerprint{PathHash: 0xdeadbeef, Size: 512}}},
		{"R|20260815|2", event{op: opSet, kind: kindRetry, day: "20260815", count: 2}},
	}
	for _, c := range cases {
		got, err := decodeSnapshotLine(c.line)
		if err != nil {
			t.Fatalf("decodeSnapshotLine(%q): %v", c.line, err)
		}
		if got != c.want {
			t.Fatalf("decodeSnapshotLine(%q) = %+v, want %+v", c.line, got, c.want)
		}
	}
}

func TestDecodeSnapshotLineRejectsMalformed(t *testing.T) {
	lines := []string{
		"",
		"+F|20260815", // journal verb in snapshot
		"Z|20260815",
		"V|1",
		"P|20260816",
		"H|0000000000000001|4096",
		"F|",
	}
	for _, line := range lines {
		if _, err := decodeSnapshotLine(line); err == nil {
			t.Errorf("decodeSnapshotLine(%q) accepted malformed line", line)
		}
	}
}
