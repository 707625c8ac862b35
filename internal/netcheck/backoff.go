package netcheck

import (
	"math"
	"time"
)

// BackoffConfig holds the configuration for exponential backoff.
type BackoffConfig struct {
	Initial    time.Duration // Initial delay (default: 2s)
	Max        time.Duration // Maximum delay (default: 10s)
	Multiplier float64       // Multiplier for each attempt (default: 1.5)
}

// DefaultBackoffConfig returns the probe schedule: 2s, 3s, 4.5s, ... capped at 10s.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    2 * time.Second,
		Max:        10 * time.Second,
		Multiplier: 1.5,
	}
}

// Backoff calculates exponential backoff delays.
type Backoff struct {
	config   BackoffConfig
	attempts int
}

// NewBackoff creates a Backoff.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{config: cfg}
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))
	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}
