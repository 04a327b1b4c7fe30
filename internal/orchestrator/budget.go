package orchestrator

import "time"

const (
	// defaultRate seeds the transfer-rate estimate before any measurement
	// exists. 40 KiB/s is a conservative figure for a busy share link.
	defaultRate = 40 * 1024

	rateHistorySize = 5
)

// budget tracks the exclusive-access time allowance for one session and
// keeps a short moving average of observed transfer rates so "will this
// file fit" questions get better as the session progresses.
type budget struct {
	start    time.Time
	duration time.Duration

	rates [rateHistorySize]int64 // bytes per second
	idx   int
	count int
	rate  int64

	now func() time.Time
}

func newBudget() *budget {
	return &budget{rate: defaultRate, now: time.Now}
}

// Start opens a new allowance. Prior rate history is kept across sessions.
func (b *budget) Start(d time.Duration) {
	b.start = b.now()
	b.duration = d
}

// Remaining returns the unspent allowance, zero once exhausted.
func (b *budget) Remaining() time.Duration {
	elapsed := b.now().Sub(b.start)
	if elapsed >= b.duration {
		return 0
	}
	return b.duration - elapsed
}

func (b *budget) Exhausted() bool { return b.Remaining() <= 0 }

// Estimate predicts how long a transfer of size bytes will take at the
// current average rate.
func (b *budget) Estimate(size int64) time.Duration {
	if size <= 0 {
		return 0
	}
	return time.Duration(size) * time.Second / time.Duration(b.rate)
}

// Fits reports whether a transfer of size bytes is expected to finish
// inside the remaining allowance.
func (b *budget) Fits(size int64) bool {
	return b.Estimate(size) <= b.Remaining()
}

// Record folds a completed transfer into the rate history.
func (b *budget) Record(bytes int64, elapsed time.Duration) {
	if elapsed <= 0 || bytes <= 0 {
		return
	}
	observed := bytes * int64(time.Second) / int64(elapsed)
	b.rates[b.idx] = observed
	b.idx = (b.idx + 1) % rateHistorySize
	if b.count < rateHistorySize {
		b.count++
	}

	var sum int64
	for i := 0; i < b.count; i++ {
		sum += b.rates[i]
	}
	b.rate = sum / int64(b.count)
	if b.rate <= 0 {
		b.rate = defaultRate
	}
}

// Rate returns the current average transfer rate in bytes per second.
func (b *budget) Rate() int64 { return b.rate }
