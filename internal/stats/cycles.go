// Package stats keeps running statistics over poll cycles: how long each
// cycle took and how far its register read landed from the target.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// Cycles accumulates cycle timings. Safe for concurrent use.
type Cycles struct {
	mu sync.Mutex

	durations *tdigest.TDigest // nanoseconds
	alignment *tdigest.TDigest // absolute nanoseconds

	count       int64
	failures    int64
	maxDuration time.Duration
	maxAlign    time.Duration
	last        time.Duration
	lastErr     string
}

// NewCycles creates an empty accumulator.
func NewCycles() *Cycles {
	return &Cycles{
		durations: tdigest.NewWithCompression(100),
		alignment: tdigest.NewWithCompression(100),
	}
}

// Record adds one cycle. aligned reports whether alignment carries a
// meaningful value; failed cycles contribute to durations only.
func (c *Cycles) Record(duration, alignment time.Duration, aligned bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	c.last = duration
	c.durations.Add(float64(duration.Nanoseconds()), 1)
	if duration > c.maxDuration {
		c.maxDuration = duration
	}

	if err != nil {
		c.failures++
		c.lastErr = err.Error()
		return
	}
	if aligned {
		abs := time.Duration(math.Abs(float64(alignment)))
		c.alignment.Add(float64(abs.Nanoseconds()), 1)
		if abs > c.maxAlign {
			c.maxAlign = abs
		}
	}
}

// Summary is a point-in-time view of the accumulated cycles.
type Summary struct {
	Count    int64 `json:"count"`
	Failures int64 `json:"failures"`

	DurationP50 time.Duration `json:"duration_p50"`
	DurationP95 time.Duration `json:"duration_p95"`
	DurationMax time.Duration `json:"duration_max"`
	Last        time.Duration `json:"last"`

	AlignedCount int64         `json:"aligned_count"`
	AlignmentP50 time.Duration `json:"alignment_p50"`
	AlignmentP95 time.Duration `json:"alignment_p95"`
	AlignmentMax time.Duration `json:"alignment_max"`

	LastError string `json:"last_error,omitempty"`
}

// SuccessRate returns the fraction of cycles that succeeded, or 0 with no cycles.
func (s Summary) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Count-s.Failures) / float64(s.Count)
}

// Summary returns the current percentiles.
func (c *Cycles) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Count:        c.count,
		Failures:     c.failures,
		DurationMax:  c.maxDuration,
		Last:         c.last,
		AlignedCount: int64(c.alignment.Count()),
		AlignmentMax: c.maxAlign,
		LastError:    c.lastErr,
	}
	if c.count > 0 {
		s.DurationP50 = time.Duration(c.durations.Quantile(0.50))
		s.DurationP95 = time.Duration(c.durations.Quantile(0.95))
	}
	if s.AlignedCount > 0 {
		s.AlignmentP50 = time.Duration(c.alignment.Quantile(0.50))
		s.AlignmentP95 = time.Duration(c.alignment.Quantile(0.95))
	}
	return s
}

// Reset discards all recorded cycles.
func (c *Cycles) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durations.Reset()
	c.alignment.Reset()
	c.count, c.failures = 0, 0
	c.maxDuration, c.maxAlign, c.last = 0, 0, 0
	c.lastErr = ""
}
