// Package schedule decides when uploading is allowed. It is pure policy: a
// mode, an hour window, and a day-completed latch, evaluated against a time
// source. The orchestrator asks it questions; it never drives anything.
package schedule

import (
	"fmt"
	"time"
)

// Mode selects how aggressively data is uploaded.
type Mode string

const (
	// ModeScheduled uploads only inside the configured window.
	ModeScheduled Mode = "scheduled"
	// ModeSmart uploads fresh data at any hour and reserves the window
	// for the old-data backlog.
	ModeSmart Mode = "smart"
)

// Policy evaluates upload eligibility. The only mutable state is the
// day-completed latch used by scheduled mode.
type Policy struct {
	mode      Mode
	startHour int
	endHour   int
	loc       *time.Location
	now       func() time.Time

	completedDay int // year*1000 + yday of the last fully completed day, 0 = none
}

// New creates a Policy. tzOffsetHours shifts the wall clock the window is
// evaluated against (the appliance itself runs on UTC).
func New(mode Mode, startHour, endHour, tzOffsetHours int) (*Policy, error) {
	if startHour < 0 || startHour > 23 {
		return nil, fmt.Errorf("window start hour %d out of range", startHour)
	}
	if endHour < 0 || endHour > 23 {
		return nil, fmt.Errorf("window end hour %d out of range", endHour)
	}
	switch mode {
	case ModeScheduled, ModeSmart:
	default:
		return nil, fmt.Errorf("unknown upload mode %q", mode)
	}
	return &Policy{
		mode:      mode,
		startHour: startHour,
		endHour:   endHour,
		loc:       time.FixedZone("local", tzOffsetHours*3600),
		now:       time.Now,
	}, nil
}

// SetClock replaces the policy's time source. Intended for tests.
func (p *Policy) SetClock(now func() time.Time) { p.now = now }

func (p *Policy) Mode() Mode { return p.mode }

func (p *Policy) localNow() time.Time { return p.now().In(p.loc) }

// InUploadWindow reports whether the given hour falls inside the window.
// A window whose start is after its end wraps past midnight: start=22,
// end=6 covers 22..23 and 0..5.
func (p *Policy) InUploadWindow(hour int) bool {
	if p.startHour == p.endHour {
		return true // degenerate config means always-open
	}
	if p.startHour < p.endHour {
		return hour >= p.startHour && hour < p.endHour
	}
	return hour >= p.startHour || hour < p.endHour
}

// InUploadWindowNow evaluates the window against local time.
func (p *Policy) InUploadWindowNow() bool {
	return p.InUploadWindow(p.localNow().Hour())
}

// CanUploadFreshData reports whether recently written data may upload right
// now. Smart mode says yes unconditionally; scheduled mode defers to the
// window.
func (p *Policy) CanUploadFreshData() bool {
	if p.mode == ModeSmart {
		return true
	}
	return p.InUploadWindowNow()
}

// CanUploadOldData reports whether backlog data may upload right now. Old
// data is window-gated in both modes.
func (p *Policy) CanUploadOldData() bool {
	return p.InUploadWindowNow()
}

// UploadEligible combines data presence with the mode and window rules.
func (p *Policy) UploadEligible(hasFresh, hasOld bool) bool {
	if hasFresh && p.CanUploadFreshData() {
		return true
	}
	if hasOld && p.CanUploadOldData() {
		return true
	}
	return false
}

// MarkDayCompleted latches today as fully uploaded. Scheduled mode uses the
// latch to stay out of the cycle for the rest of the day.
func (p *Policy) MarkDayCompleted() {
	p.completedDay = dayKey(p.localNow())
}

// DayCompleted reports whether today has already been fully uploaded. The
// latch releases itself when the local date changes.
func (p *Policy) DayCompleted() bool {
	return p.completedDay != 0 && p.completedDay == dayKey(p.localNow())
}

// NextEligible estimates when uploading next becomes possible: now if the
// window is open (or smart mode always), otherwise the next window start.
func (p *Policy) NextEligible() time.Time {
	now := p.localNow()
	if p.mode == ModeSmart || p.InUploadWindow(now.Hour()) {
		return now
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), p.startHour, 0, 0, 0, p.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func dayKey(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}
