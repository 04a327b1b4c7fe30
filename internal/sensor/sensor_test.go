package sensor

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeSource struct {
	counts []uint32
	pos    int
	err    error
}

func (f *fakeSource) ReadAndClear() (uint32, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.pos >= len(f.counts) {
		return 0, nil
	}
	v := f.counts[f.pos]
	f.pos++
	return v, nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestMonitor(src PulseSource) (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := New(src, testLogger())
	m.SetClock(clock.now)
	return m, clock
}

func TestBusyAndIdleTracking(t *testing.T) {
	// First read is consumed by New's health check.
	src := &fakeSource{counts: []uint32{0, 12, 0, 0, 0}}
	m, clock := newTestMonitor(src)

	clock.advance(100 * time.Millisecond)
	m.Poll()
	if !m.IsBusy() {
		t.Fatal("expected busy after active sample")
	}
	if m.ConsecutiveIdle() != 0 {
		t.Fatalf("ConsecutiveIdle = %v, want 0", m.ConsecutiveIdle())
	}

	for i := 0; i < 3; i++ {
		clock.advance(100 * time.Millisecond)
		m.Poll()
	}
	if m.IsBusy() {
		t.Fatal("expected idle after silent samples")
	}
	if got := m.ConsecutiveIdle(); got != 300*time.Millisecond {
		t.Fatalf("ConsecutiveIdle = %v, want 300ms", got)
	}
	if !m.IsIdleFor(300 * time.Millisecond) {
		t.Fatal("IsIdleFor(300ms) = false, want true")
	}
	if m.IsIdleFor(400 * time.Millisecond) {
		t.Fatal("IsIdleFor(400ms) = true, want false")
	}
}

func TestPollRespectsSampleInterval(t *testing.T) {
	src := &fakeSource{counts: []uint32{0, 5}}
	m, clock := newTestMonitor(src)

	clock.advance(50 * time.Millisecond)
	m.Poll() // too early, must not consume a reading
	if m.IsBusy() {
		t.Fatal("sample taken before interval elapsed")
	}

	clock.advance(60 * time.Millisecond)
	m.Poll()
	if !m.IsBusy() {
		t.Fatal("expected sample after interval elapsed")
	}
}

func TestResetIdleTracking(t *testing.T) {
	src := &fakeSource{counts: []uint32{0, 0, 0}}
	m, clock := newTestMonitor(src)

	clock.advance(100 * time.Millisecond)
	m.Poll()
	clock.advance(100 * time.Millisecond)
	m.Poll()
	if m.ConsecutiveIdle() == 0 {
		t.Fatal("expected accumulated idle time")
	}

	m.ResetIdleTracking()
	if m.ConsecutiveIdle() != 0 {
		t.Fatal("ResetIdleTracking did not zero the counter")
	}
}

func TestOneSecondAggregation(t *testing.T) {
	counts := []uint32{0} // health check
	for i := 0; i < 20; i++ {
		counts = append(counts, uint32(i%2)) // alternating activity
	}
	src := &fakeSource{counts: counts}
	m, clock := newTestMonitor(src)

	for i := 0; i < 20; i++ {
		clock.advance(100 * time.Millisecond)
		m.Poll()
	}

	samples := m.Samples()
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	for _, s := range samples {
		if !s.Active || s.PulseCount == 0 {
			t.Fatalf("expected active aggregated sample, got %+v", s)
		}
	}

	stats := m.Statistics()
	if stats.TotalActive != 2 || stats.TotalIdle != 0 {
		t.Fatalf("stats = %+v, want 2 active / 0 idle", stats)
	}
}

func TestRingBufferWraps(t *testing.T) {
	counts := []uint32{0}
	n := (MaxSamples + 10) * 10
	for i := 0; i < n; i++ {
		counts = append(counts, 1)
	}
	src := &fakeSource{counts: counts}
	m, clock := newTestMonitor(src)

	for i := 0; i < n; i++ {
		clock.advance(100 * time.Millisecond)
		m.Poll()
	}

	samples := m.Samples()
	if len(samples) != MaxSamples {
		t.Fatalf("got %d samples, want %d", len(samples), MaxSamples)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp <= samples[i-1].Timestamp {
			t.Fatal("samples not in oldest-first order after wrap")
		}
	}
}

func TestFailOpenOnNilSource(t *testing.T) {
	m := New(nil, testLogger())
	if !m.FailedOpen() {
		t.Fatal("expected fail-open with nil source")
	}
	if !m.IsIdleFor(time.Hour) {
		t.Fatal("fail-open monitor must report idle for any duration")
	}
}

func TestFailOpenOnBrokenSource(t *testing.T) {
	src := &fakeSource{err: errors.New("peripheral init failed")}
	m := New(src, testLogger())
	if !m.FailedOpen() {
		t.Fatal("expected fail-open when first read errors")
	}
	m.Poll() // must not panic or block
	if m.IsBusy() {
		t.Fatal("fail-open monitor must never report busy")
	}
}

func TestResetStatistics(t *testing.T) {
	src := &fakeSource{counts: []uint32{0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}}
	m, clock := newTestMonitor(src)
	for i := 0; i < 10; i++ {
		clock.advance(100 * time.Millisecond)
		m.Poll()
	}
	if len(m.Samples()) == 0 {
		t.Fatal("expected samples before reset")
	}
	m.ResetStatistics()
	if len(m.Samples()) != 0 {
		t.Fatal("expected empty ring after reset")
	}
	if s := m.Statistics(); s.TotalActive != 0 || s.TotalIdle != 0 || s.LongestIdle != 0 {
		t.Fatalf("statistics not cleared: %+v", s)
	}
}
