package supervisor

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// smoothing is the weight of the newest measurement.
const smoothing = 0.3

// Estimate is the smoothed duration of a poll cycle. The scheduler wakes
// this long before each target so the register read lands on it.
type Estimate struct {
	mu    sync.Mutex
	value time.Duration
	floor time.Duration
}

// NewEstimate creates an Estimate starting at initial, never below floor.
func NewEstimate(initial, floor time.Duration) *Estimate {
	if floor < 0 {
		floor = 0
	}
	if initial < floor {
		initial = floor
	}
	return &Estimate{value: initial, floor: floor}
}

// Value returns the current estimate.
func (e *Estimate) Value() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Update folds a measured cycle duration into the estimate and returns
// the new value.
func (e *Estimate) Update(measured time.Duration) time.Duration {
	if measured < 0 {
		measured = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := time.Duration((1-smoothing)*float64(e.value) + smoothing*float64(measured))
	if next < e.floor {
		next = e.floor
	}
	e.value = next
	return next
}

// Aligner finds wall-clock minute boundaries.
type Aligner struct {
	schedule cron.Schedule
}

// NewAligner returns an Aligner on the standard every-minute schedule.
func NewAligner() *Aligner {
	sched, err := cron.ParseStandard("* * * * *")
	if err != nil {
		panic("supervisor: every-minute schedule: " + err.Error())
	}
	return &Aligner{schedule: sched}
}

// Next returns the first minute boundary strictly after t.
func (a *Aligner) Next(t time.Time) time.Time {
	return a.schedule.Next(t)
}
