package sensor

import (
	"log/slog"
	"time"
)

// Sample is one aggregated one-second window of bus activity.
type Sample struct {
	Timestamp  uint32 `json:"timestamp"` // seconds since boot
	PulseCount uint16 `json:"pulses"`
	Active     bool   `json:"active"`
}

// PulseSource reads and clears an edge counter. Implementations are expected
// to apply a glitch filter so sub-100ns noise does not register as activity.
type PulseSource interface {
	// ReadAndClear returns the number of edges counted since the last call.
	ReadAndClear() (uint32, error)
}

const (
	// sampleInterval is how often Poll reads the counter.
	sampleInterval = 100 * time.Millisecond

	// MaxSamples is the ring buffer capacity: 20 minutes at 1 sample/sec.
	MaxSamples = 1200
)

// Monitor watches the shared storage bus for host activity. It samples a
// pulse counter every 100ms, aggregates one-second windows into a ring
// buffer, and tracks how long the bus has been continuously silent.
//
// If the pulse source is unavailable the monitor fails open: it reports the
// bus as permanently idle and lets the orchestrator's own timeout logic act
// as the safety net. Poll never blocks.
type Monitor struct {
	source PulseSource
	logger *slog.Logger
	now    func() time.Time

	failOpen bool
	started  time.Time

	lastSampleTime   time.Time
	lastPulseCount   uint16
	lastSampleActive bool

	consecutiveIdle time.Duration

	// one-second aggregation
	lastSecondTime   time.Time
	secondPulseAccum uint32

	ring  [MaxSamples]Sample
	head  int
	count int

	longestIdle time.Duration
	totalActive uint32
	totalIdle   uint32
}

// New creates a Monitor over the given pulse source. A nil source, or a
// source whose first read fails, puts the monitor into fail-open mode.
func New(source PulseSource, logger *slog.Logger) *Monitor {
	m := &Monitor{
		source: source,
		logger: logger,
		now:    time.Now,
	}
	m.started = m.now()
	m.lastSampleTime = m.started
	m.lastSecondTime = m.started

	if source == nil {
		m.failOpen = true
		logger.Warn("bus activity source unavailable, sensor failing open (reporting idle)")
		return m
	}
	if _, err := source.ReadAndClear(); err != nil {
		m.failOpen = true
		logger.Warn("bus activity counter unreadable, sensor failing open (reporting idle)", "error", err)
	}
	return m
}

// SetClock replaces the monitor's time source. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
	m.started = now()
	m.lastSampleTime = m.started
	m.lastSecondTime = m.started
}

// FailedOpen reports whether the monitor degraded to the permanently-idle
// fallback because its counter could not be read.
func (m *Monitor) FailedOpen() bool {
	return m.failOpen
}

// Poll takes a sample if the sampling interval has elapsed. It is a no-op
// otherwise and never blocks; call it once per control-loop tick.
func (m *Monitor) Poll() {
	if m.failOpen {
		return
	}

	now := m.now()
	elapsed := now.Sub(m.lastSampleTime)
	if elapsed < sampleInterval {
		return
	}
	m.lastSampleTime = now

	count, err := m.source.ReadAndClear()
	if err != nil {
		// Transient read errors count as idle; a wedged counter must not
		// keep the therapy device's data from ever uploading.
		m.logger.Debug("pulse counter read failed", "error", err)
		count = 0
	}
	if count > 65535 {
		count = 65535
	}

	m.lastPulseCount = uint16(count)
	m.lastSampleActive = count > 0

	if m.lastSampleActive {
		m.consecutiveIdle = 0
	} else {
		m.consecutiveIdle += elapsed
		if m.consecutiveIdle > m.longestIdle {
			m.longestIdle = m.consecutiveIdle
		}
	}

	m.secondPulseAccum += count
	if now.Sub(m.lastSecondTime) >= time.Second {
		pulses := m.secondPulseAccum
		if pulses > 65535 {
			pulses = 65535
		}
		m.push(Sample{
			Timestamp:  uint32(now.Sub(m.started) / time.Second),
			PulseCount: uint16(pulses),
			Active:     pulses > 0,
		})
		if pulses > 0 {
			m.totalActive++
		} else {
			m.totalIdle++
		}
		m.secondPulseAccum = 0
		m.lastSecondTime = now
	}
}

// IsBusy reports whether the most recent sample window saw any pulses.
func (m *Monitor) IsBusy() bool {
	return m.lastSampleActive
}

// IsIdleFor reports whether the bus has been silent for at least d.
func (m *Monitor) IsIdleFor(d time.Duration) bool {
	if m.failOpen {
		return true
	}
	return m.consecutiveIdle >= d
}

// ConsecutiveIdle returns how long the bus has been continuously silent.
func (m *Monitor) ConsecutiveIdle() time.Duration {
	return m.consecutiveIdle
}

// ResetIdleTracking zeroes the silence counter, forcing a fresh measurement.
// Called on state transitions that require newly observed silence.
func (m *Monitor) ResetIdleTracking() {
	m.consecutiveIdle = 0
}

// Samples returns a copy of the ring buffer, oldest first.
func (m *Monitor) Samples() []Sample {
	out := make([]Sample, 0, m.count)
	start := m.head - m.count
	if start < 0 {
		start += MaxSamples
	}
	for i := 0; i < m.count; i++ {
		out = append(out, m.ring[(start+i)%MaxSamples])
	}
	return out
}

// Stats is a snapshot of the monitor's counters for the status surface.
type Stats struct {
	LongestIdle    time.Duration `json:"longest_idle"`
	TotalActive    uint32        `json:"total_active_samples"`
	TotalIdle      uint32        `json:"total_idle_samples"`
	LastPulseCount uint16        `json:"last_pulse_count"`
	FailedOpen     bool          `json:"failed_open"`
}

// Statistics returns the accumulated sample statistics.
func (m *Monitor) Statistics() Stats {
	return Stats{
		LongestIdle:    m.longestIdle,
		TotalActive:    m.totalActive,
		TotalIdle:      m.totalIdle,
		LastPulseCount: m.lastPulseCount,
		FailedOpen:     m.failOpen,
	}
}

// ResetStatistics clears the ring buffer and counters, e.g. when entering
// monitoring mode for a fresh calibration run.
func (m *Monitor) ResetStatistics() {
	m.longestIdle = 0
	m.totalActive = 0
	m.totalIdle = 0
	m.head = 0
	m.count = 0
	m.secondPulseAccum = 0
	m.lastSecondTime = m.now()
}

func (m *Monitor) push(s Sample) {
	m.ring[m.head] = s
	m.head = (m.head + 1) % MaxSamples
	if m.count < MaxSamples {
		m.count++
	}
}
