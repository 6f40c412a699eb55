// Package history provides the point history buffer and the velocity estimator.
package history

import (
	"math"
	"time"
)

// Defaults for the estimator.
const (
	DefaultWindow     = 10 * time.Minute
	DefaultTrendShort = 60 * time.Second
	DefaultTrendLong  = 300 * time.Second

	minBaseline       = 100
	abnormalVelocity  = 500
	abnormalRatio     = 3.0
	minElapsedSeconds = 1.0
)

// Sample is one point of the history.
type Sample struct {
	At    time.Time
	Total int64
}

// Trend compares short-term velocity against a long-term baseline.
type Trend struct {
	Current  int64   // Velocity over the short lookback (points/min)
	Baseline int64   // Velocity over the long lookback (points/min)
	Ratio    float64 // Current / max(Baseline, 100), one decimal
	Abnormal bool    // Current > 500 and ratio >= 3.0
}

// Buffer is an ordered, time-bounded series of totals.
// Not safe for concurrent use; use Clone to hand a copy to readers.
type Buffer struct {
	window  time.Duration
	samples []Sample
}

// NewBuffer creates a buffer keeping samples for the given window.
func NewBuffer(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{window: window}
}

// Append adds a sample and prunes samples older than the window.
// A total lower than the last sample starts a new series so totals stay non-decreasing.
func (b *Buffer) Append(at time.Time, total int64) {
	if n := len(b.samples); n > 0 && total < b.samples[n-1].Total {
		b.samples = b.samples[:0]
	}
	b.samples = append(b.samples, Sample{At: at, Total: total})

	cutoff := at.Add(-b.window)
	drop := 0
	for drop < len(b.samples) && b.samples[drop].At.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.samples = append(b.samples[:0], b.samples[drop:]...)
	}
}

// Restart drops all samples and seeds the series with one sample.
func (b *Buffer) Restart(at time.Time, total int64) {
	b.samples = b.samples[:0]
	b.Append(at, total)
}

// Clear drops all samples.
func (b *Buffer) Clear() {
	b.samples = nil
}

// Len returns the number of samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Samples returns a copy of the samples, oldest first.
func (b *Buffer) Samples() []Sample {
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{window: b.window, samples: b.Samples()}
}

// Velocity returns points per minute over the lookback ending at now.
// The reference sample is the earliest one inside the lookback, or the earliest overall.
func (b *Buffer) Velocity(now time.Time, current int64, lookback time.Duration) int64 {
	if len(b.samples) < 2 {
		return 0
	}

	target := now.Add(-lookback)
	ref := b.samples[0]
	for _, s := range b.samples {
		if !s.At.Before(target) {
			ref = s
			break
		}
	}

	elapsed := now.Sub(ref.At).Seconds()
	if elapsed < minElapsedSeconds {
		return 0
	}

	return int64(math.Floor(float64(current-ref.Total) / elapsed * 60))
}

// Trend computes the short/long velocity comparison.
func (b *Buffer) Trend(now time.Time, current int64, short, long time.Duration) Trend {
	cur := b.Velocity(now, current, short)
	base := b.Velocity(now, current, long)

	effective := base
	if effective < minBaseline {
		effective = minBaseline
	}
	ratio := float64(cur) / float64(effective)

	return Trend{
		Current:  cur,
		Baseline: base,
		Ratio:    math.Round(ratio*10) / 10,
		Abnormal: cur > abnormalVelocity && ratio >= abnormalRatio,
	}
}
