package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Default chunking parameters
const (
	DefaultChunkDuration = 4 * time.Minute
	DefaultMaxChunkBytes = 25 * 1024 * 1024
)

// ErrChunkTooLarge is returned by CheckSize when an encoded chunk exceeds
// the transcription service ceiling
var ErrChunkTooLarge = errors.New("encoded chunk exceeds size limit")

// Chunk is a bounded-duration slice of a buffer scheduled for transcription
type Chunk struct {
	Index int           `json:"index"` // 1-based, defines output order
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Audio *Buffer       `json:"-"`
}

// Duration returns the length of the chunk
func (c Chunk) Duration() time.Duration {
	return c.End - c.Start
}

// String returns a human-readable representation for logging
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d: %s-%s", c.Index, c.Start, c.End)
}

// EncodedChunk is a chunk written to an exclusively owned temp file.
// Callers must Release it once the transcription call has returned.
type EncodedChunk struct {
	Chunk
	Path string
	Size int64

	released bool
	mu       sync.Mutex
}

// SizeMB returns the encoded size in mebibytes
func (e *EncodedChunk) SizeMB() float64 {
	return float64(e.Size) / (1024 * 1024)
}

// Release removes the temp file. It is safe to call more than once.
func (e *EncodedChunk) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return nil
	}
	e.released = true

	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove chunk file %s: %w", e.Path, err)
	}
	return nil
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	Duration time.Duration
	MaxBytes int64
	TempDir  string // empty means os.TempDir()
}

// Chunker splits buffers into fixed-duration windows and screens their
// encoded size against the service ceiling
type Chunker struct {
	config ChunkingConfig

	// Statistics
	chunksCreated   uint64
	chunksOversized uint64
	totalDuration   time.Duration

	mu sync.RWMutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksCreated   uint64        `json:"chunks_created"`
	ChunksOversized uint64        `json:"chunks_oversized"`
	TotalDuration   time.Duration `json:"total_duration"`
	AvgChunkSize    float64       `json:"avg_chunk_duration_sec"`
}

// NewChunker creates a new audio chunker
func NewChunker(config ChunkingConfig) (*Chunker, error) {
	if config.Duration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %s", config.Duration)
	}

	if config.MaxBytes <= 0 {
		return nil, fmt.Errorf("max chunk bytes must be positive, got %d", config.MaxBytes)
	}

	return &Chunker{config: config}, nil
}

// Split partitions the buffer into contiguous, non-overlapping windows.
// The last window may be shorter; the chunk durations always add up to the
// buffer duration.
func (c *Chunker) Split(b *Buffer) []Chunk {
	n := b.Len()
	if n == 0 {
		return nil
	}

	rate := b.SampleRate()
	step := int(int64(c.config.Duration) * int64(rate) / int64(time.Second))
	if step < 1 {
		step = 1
	}

	chunks := make([]Chunk, 0, (n+step-1)/step)
	for start := 0; start < n; start += step {
		end := min(start+step, n)
		chunks = append(chunks, Chunk{
			Index: len(chunks) + 1,
			Start: sampleOffset(start, rate),
			End:   sampleOffset(end, rate),
			Audio: b.SliceSamples(start, end),
		})
	}

	c.mu.Lock()
	c.chunksCreated += uint64(len(chunks))
	c.totalDuration += b.Duration()
	c.mu.Unlock()

	return chunks
}

// Materialize encodes the chunk to WAV in a new temp file and measures
// the encoded size
func (c *Chunker) Materialize(chunk Chunk) (*EncodedChunk, error) {
	data, err := chunk.Audio.EncodeWAV()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", chunk, err)
	}

	f, err := os.CreateTemp(c.config.TempDir, fmt.Sprintf("chunk_%d_*.wav", chunk.Index))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", chunk, err)
	}

	enc := &EncodedChunk{Chunk: chunk, Path: f.Name()}

	if _, err := f.Write(data); err != nil {
		f.Close()
		enc.Release()
		return nil, fmt.Errorf("failed to write %s: %w", chunk, err)
	}

	if err := f.Close(); err != nil {
		enc.Release()
		return nil, fmt.Errorf("failed to close %s: %w", chunk, err)
	}

	info, err := os.Stat(enc.Path)
	if err != nil {
		enc.Release()
		return nil, fmt.Errorf("failed to stat %s: %w", chunk, err)
	}
	enc.Size = info.Size()

	return enc, nil
}

// CheckSize returns ErrChunkTooLarge when the encoded chunk exceeds the ceiling
func (c *Chunker) CheckSize(enc *EncodedChunk) error {
	if enc.Size <= c.config.MaxBytes {
		return nil
	}

	c.mu.Lock()
	c.chunksOversized++
	c.mu.Unlock()

	return fmt.Errorf("%w: chunk %d is %.2f MB, limit %.2f MB", ErrChunkTooLarge,
		enc.Index, enc.SizeMB(), float64(c.config.MaxBytes)/(1024*1024))
}

// MaxBytes returns the configured size ceiling
func (c *Chunker) MaxBytes() int64 {
	return c.config.MaxBytes
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	avgDuration := float64(0)
	if c.chunksCreated > 0 {
		avgDuration = c.totalDuration.Seconds() / float64(c.chunksCreated)
	}

	return ChunkerStats{
		ChunksCreated:   c.chunksCreated,
		ChunksOversized: c.chunksOversized,
		TotalDuration:   c.totalDuration,
		AvgChunkSize:    avgDuration,
	}
}

func sampleOffset(n, sampleRate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
