// Package history tracks the enable/disable windows of a single power source
// and answers point-in-time membership queries against them.
package history

import (
	"fmt"

	"github.com/quorumlabs/votegrid/pkg/power"
)

// Period is a half-open interval of points during which a source counts
// toward aggregation. A period with DisabledOn == power.PointMax is open.
type Period struct {
	EnabledFrom power.Point
	DisabledOn  power.Point
}

// Open reports whether the period has no closing point yet.
func (p Period) Open() bool { return p.DisabledOn == power.PointMax }

// Contains reports whether at falls inside the period.
func (p Period) Contains(at power.Point) bool {
	return p.EnabledFrom <= at && at < p.DisabledOn
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.EnabledFrom, p.DisabledOn)
}

// History is the ordered sequence of a source's activation periods.
//
// Invariants: periods are stored in strictly increasing order of EnabledFrom,
// are mutually non-overlapping, and at most the trailing period is open.
// Periods are append-only; a closed period is never reopened or edited.
type History struct {
	periods []Period
}

// Len returns the number of recorded periods.
func (h *History) Len() int { return len(h.periods) }

// CanStartPeriod reports whether StartPeriod(from) would succeed. Callers
// that must coordinate the mutation with an external write (the registry
// journal) validate first so the history is only touched once the write is
// durable.
func (h *History) CanStartPeriod(from power.Point) error {
	if n := len(h.periods); n > 0 {
		last := h.periods[n-1]
		if last.Open() {
			return power.ErrSourceEnabled
		}
		if from < last.DisabledOn {
			return fmt.Errorf("period start %s precedes previous close %s", from, last.DisabledOn)
		}
	}
	return nil
}

// StartPeriod appends an open period beginning at from. It fails with
// power.ErrSourceEnabled if the latest period is still open, so a source can
// never carry two open periods.
func (h *History) StartPeriod(from power.Point) error {
	if err := h.CanStartPeriod(from); err != nil {
		return err
	}
	h.periods = append(h.periods, Period{EnabledFrom: from, DisabledOn: power.PointMax})
	return nil
}

// CanStopPeriod reports whether StopPeriod(on) would succeed.
func (h *History) CanStopPeriod(on power.Point) error {
	n := len(h.periods)
	if n == 0 || !h.periods[n-1].Open() {
		return power.ErrSourceDisabled
	}
	if on <= h.periods[n-1].EnabledFrom {
		return fmt.Errorf("period close %s not after start %s", on, h.periods[n-1].EnabledFrom)
	}
	return nil
}

// StopPeriod closes the latest period at on. It fails with
// power.ErrSourceDisabled if there is no open period.
func (h *History) StopPeriod(on power.Point) error {
	if err := h.CanStopPeriod(on); err != nil {
		return err
	}
	h.periods[len(h.periods)-1].DisabledOn = on
	return nil
}

// EnabledAt reports whether the source was active at the given point. Periods
// are sorted and non-overlapping, so the scan stops at the first period
// starting after at.
func (h *History) EnabledAt(at power.Point) bool {
	for _, p := range h.periods {
		if p.EnabledFrom > at {
			return false
		}
		if p.Contains(at) {
			return true
		}
	}
	return false
}

// Period returns the i-th recorded period.
func (h *History) Period(i int) (Period, error) {
	if i < 0 || i >= len(h.periods) {
		return Period{}, power.ErrIndexOutOfRange
	}
	return h.periods[i], nil
}

// Periods returns a copy of the recorded periods, oldest first.
func (h *History) Periods() []Period {
	out := make([]Period, len(h.periods))
	copy(out, h.periods)
	return out
}

// Restore rebuilds a history from persisted periods. The periods must already
// satisfy the ordering invariants; Restore verifies them and rejects a
// corrupted snapshot.
func Restore(periods []Period) (*History, error) {
	h := &History{}
	for i, p := range periods {
		if p.EnabledFrom >= p.DisabledOn {
			return nil, fmt.Errorf("period %d: start %s not before close %s", i, p.EnabledFrom, p.DisabledOn)
		}
		if p.Open() {
			if err := h.StartPeriod(p.EnabledFrom); err != nil {
				return nil, fmt.Errorf("period %d: %w", i, err)
			}
			continue
		}
		if err := h.StartPeriod(p.EnabledFrom); err != nil {
			return nil, fmt.Errorf("period %d: %w", i, err)
		}
		if err := h.StopPeriod(p.DisabledOn); err != nil {
			return nil, fmt.Errorf("period %d: %w", i, err)
		}
	}
	return h, nil
}
