package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
	"github.com/bonchardon-dev/audio-transcription/internal/interval"
)

// DefaultSeekStep is the window step in milliseconds
const DefaultSeekStep int64 = 1

// Detector finds silent and non-silent stretches of a buffer by comparing
// windowed RMS energy against an absolute dBFS threshold
type Detector struct {
	seekStep int64 // Window step in ms

	// Statistics
	totalWindows  uint64
	silentWindows uint64
	runs          uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// DetectorStats represents silence detector statistics
type DetectorStats struct {
	SeekStepMs        int64     `json:"seek_step_ms"`
	Runs              uint64    `json:"runs"`
	TotalWindows      uint64    `json:"total_windows"`
	SilentWindows     uint64    `json:"silent_windows"`
	SilencePercentage float64   `json:"silence_percentage"`
	LastProcessed     time.Time `json:"last_processed"`
}

// NewDetector creates a new silence detector
func NewDetector(seekStepMs int64) (*Detector, error) {
	if seekStepMs <= 0 {
		return nil, fmt.Errorf("seek step must be positive, got %d", seekStepMs)
	}

	return &Detector{seekStep: seekStepMs}, nil
}

// DetectSilence returns the silent ranges of the buffer. A window of
// minSilenceMs is silent when its RMS is at or below the threshold;
// overlapping silent windows coalesce into one range.
func (d *Detector) DetectSilence(b *audio.Buffer, minSilenceMs int64, threshDBFS float64) []interval.Interval {
	segLen := b.DurationMs()
	if minSilenceMs <= 0 || segLen < minSilenceMs {
		return nil
	}

	threshold := audio.DBFSToAmplitude(threshDBFS)
	energy := prefixEnergy(b.Samples())

	lastStart := segLen - minSilenceMs
	starts := make([]int64, 0, lastStart/d.seekStep+2)
	for i := int64(0); i <= lastStart; i += d.seekStep {
		starts = append(starts, i)
	}
	if lastStart%d.seekStep != 0 {
		starts = append(starts, lastStart)
	}

	silentStarts := make([]int64, 0)
	for _, i := range starts {
		from := b.MsToSample(i)
		to := min(b.MsToSample(i+minSilenceMs), b.Len())
		if windowRMS(energy, from, to) <= threshold {
			silentStarts = append(silentStarts, i)
		}
	}

	d.mu.Lock()
	d.runs++
	d.totalWindows += uint64(len(starts))
	d.silentWindows += uint64(len(silentStarts))
	d.lastProcessed = time.Now()
	d.mu.Unlock()

	if len(silentStarts) == 0 {
		return nil
	}

	ranges := make([]interval.Interval, 0)
	prev := silentStarts[0]
	rangeStart := prev
	for _, start := range silentStarts[1:] {
		continuous := start == prev+d.seekStep
		hasGap := start > prev+minSilenceMs
		if !continuous && hasGap {
			ranges = append(ranges, interval.Interval{Start: rangeStart, End: prev + minSilenceMs})
			rangeStart = start
		}
		prev = start
	}
	ranges = append(ranges, interval.Interval{Start: rangeStart, End: prev + minSilenceMs})

	return ranges
}

// DetectNonSilent returns the complement of DetectSilence within the
// buffer. A fully silent buffer yields no ranges; a buffer with no silent
// window yields one range covering the whole buffer.
func (d *Detector) DetectNonSilent(b *audio.Buffer, minSilenceMs int64, threshDBFS float64) []interval.Interval {
	segLen := b.DurationMs()
	silent := d.DetectSilence(b, minSilenceMs, threshDBFS)

	if len(silent) == 0 {
		if segLen == 0 {
			return nil
		}
		return []interval.Interval{{Start: 0, End: segLen}}
	}

	if silent[0].Start == 0 && silent[0].End == segLen {
		return nil
	}

	ranges := make([]interval.Interval, 0, len(silent)+1)
	var prevEnd int64
	for _, s := range silent {
		if s.Start > prevEnd {
			ranges = append(ranges, interval.Interval{Start: prevEnd, End: s.Start})
		}
		prevEnd = s.End
	}

	if prevEnd < segLen {
		ranges = append(ranges, interval.Interval{Start: prevEnd, End: segLen})
	}

	return ranges
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	silencePercentage := float64(0)
	if d.totalWindows > 0 {
		silencePercentage = float64(d.silentWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		SeekStepMs:        d.seekStep,
		Runs:              d.runs,
		TotalWindows:      d.totalWindows,
		SilentWindows:     d.silentWindows,
		SilencePercentage: silencePercentage,
		LastProcessed:     d.lastProcessed,
	}
}

// Reset resets detector statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.runs = 0
	d.totalWindows = 0
	d.silentWindows = 0
	d.lastProcessed = time.Time{}
}

// prefixEnergy returns cumulative sums of squared samples; entry i holds
// the energy of samples[:i]
func prefixEnergy(samples []int16) []int64 {
	energy := make([]int64, len(samples)+1)
	for i, s := range samples {
		energy[i+1] = energy[i] + int64(s)*int64(s)
	}
	return energy
}

// windowRMS returns the integer-truncated RMS of samples[from:to]
func windowRMS(energy []int64, from, to int) float64 {
	if to <= from {
		return 0
	}
	sum := energy[to] - energy[from]
	return math.Floor(math.Sqrt(float64(sum) / float64(to-from)))
}
