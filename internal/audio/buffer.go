package audio

import (
	"fmt"
	"math"
	"time"
)

// maxAmplitude is the largest magnitude representable by a PCM-16 sample
const maxAmplitude = 32768.0

// Buffer is an immutable in-memory mono PCM-16 recording.
// Every transformation (Slice, Append, Concat) returns a new Buffer that
// owns its own copy of the samples.
type Buffer struct {
	samples    []int16
	sampleRate int
}

// BufferStats represents buffer statistics for logging and monitoring
type BufferStats struct {
	SampleRate int     `json:"sample_rate"`
	Samples    int     `json:"samples"`
	DurationMs int64   `json:"duration_ms"`
	DBFS       float64 `json:"dbfs"`
}

// NewBuffer creates a buffer from PCM-16 samples. The samples are copied.
func NewBuffer(samples []int16, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	owned := make([]int16, len(samples))
	copy(owned, samples)

	return &Buffer{samples: owned, sampleRate: sampleRate}, nil
}

// Empty returns a zero-length buffer with the given sample rate
func Empty(sampleRate int) *Buffer {
	return &Buffer{samples: []int16{}, sampleRate: sampleRate}
}

// SampleRate returns the sample rate in Hz
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// Len returns the number of samples in the buffer
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Samples returns a copy of the PCM samples
func (b *Buffer) Samples() []int16 {
	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	return out
}

// Float32 returns the samples normalized to [-1, 1)
func (b *Buffer) Float32() []float32 {
	out := make([]float32, len(b.samples))
	for i, s := range b.samples {
		out[i] = float32(s) / maxAmplitude
	}
	return out
}

// DurationMs returns the duration in whole milliseconds, rounded to nearest
func (b *Buffer) DurationMs() int64 {
	return samplesToMs(len(b.samples), b.sampleRate)
}

// Duration returns the sample-accurate duration
func (b *Buffer) Duration() time.Duration {
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}

// RMS returns the root mean square amplitude of the buffer
func (b *Buffer) RMS() float64 {
	return rms(b.samples)
}

// DBFS returns the loudness relative to full scale. Digital silence
// and empty buffers report negative infinity.
func (b *Buffer) DBFS() float64 {
	return AmplitudeToDBFS(b.RMS())
}

// Slice returns the half-open range [startMs, endMs) as a new buffer.
// Bounds are clamped to the buffer; an inverted range yields an empty buffer.
func (b *Buffer) Slice(startMs, endMs int64) *Buffer {
	return b.SliceSamples(b.MsToSample(startMs), b.MsToSample(endMs))
}

// SliceSamples returns the half-open sample range [start, end) as a new buffer
func (b *Buffer) SliceSamples(start, end int) *Buffer {
	start = clamp(start, 0, len(b.samples))
	end = clamp(end, 0, len(b.samples))
	if end <= start {
		return Empty(b.sampleRate)
	}

	owned := make([]int16, end-start)
	copy(owned, b.samples[start:end])

	return &Buffer{samples: owned, sampleRate: b.sampleRate}
}

// Append returns a new buffer holding b followed by other
func (b *Buffer) Append(other *Buffer) (*Buffer, error) {
	return Concat(b.sampleRate, b, other)
}

// Concat joins buffers in order into a new buffer. All parts must share
// the given sample rate.
func Concat(sampleRate int, parts ...*Buffer) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	total := 0
	for i, p := range parts {
		if p.sampleRate != sampleRate {
			return nil, fmt.Errorf("part %d has sample rate %d, expected %d", i, p.sampleRate, sampleRate)
		}
		total += len(p.samples)
	}

	owned := make([]int16, 0, total)
	for _, p := range parts {
		owned = append(owned, p.samples...)
	}

	return &Buffer{samples: owned, sampleRate: sampleRate}, nil
}

// EncodeWAV encodes the buffer as a mono PCM-16 WAV file
func (b *Buffer) EncodeWAV() ([]byte, error) {
	return EncodeWAV(b.samples, b.sampleRate)
}

// MsToSample converts a millisecond offset to a sample index
func (b *Buffer) MsToSample(ms int64) int {
	return int(ms * int64(b.sampleRate) / 1000)
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	return BufferStats{
		SampleRate: b.sampleRate,
		Samples:    len(b.samples),
		DurationMs: b.DurationMs(),
		DBFS:       b.DBFS(),
	}
}

// AmplitudeToDBFS converts an RMS amplitude to dBFS
func AmplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude/maxAmplitude)
}

// DBFSToAmplitude converts a dBFS level to an RMS amplitude
func DBFSToAmplitude(dbfs float64) float64 {
	if math.IsInf(dbfs, -1) {
		return 0
	}
	return math.Pow(10, dbfs/20) * maxAmplitude
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}

	return math.Sqrt(energy / float64(len(samples)))
}

func samplesToMs(n, sampleRate int) int64 {
	return int64(math.Round(float64(n) * 1000 / float64(sampleRate)))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
