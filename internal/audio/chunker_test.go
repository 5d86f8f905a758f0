package audio

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestNewChunker(t *testing.T) {
	chunker, err := NewChunker(ChunkingConfig{
		Duration: DefaultChunkDuration,
		MaxBytes: DefaultMaxChunkBytes,
	})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if chunker.MaxBytes() != 25*1024*1024 {
		t.Errorf("Expected 25 MiB ceiling, got %d", chunker.MaxBytes())
	}

	if _, err := NewChunker(ChunkingConfig{Duration: 0, MaxBytes: 1}); err == nil {
		t.Error("Expected error for zero duration")
	}

	if _, err := NewChunker(ChunkingConfig{Duration: time.Second, MaxBytes: 0}); err == nil {
		t.Error("Expected error for zero size ceiling")
	}
}

func TestChunkerSplitTenMinutes(t *testing.T) {
	// 10 minutes at 1 kHz keeps the test buffer small
	b := constantBuffer(t, 500, 10*60*1000, 1000)

	chunker, err := NewChunker(ChunkingConfig{Duration: 4 * time.Minute, MaxBytes: DefaultMaxChunkBytes})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks := chunker.Split(b)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	want := []time.Duration{4 * time.Minute, 4 * time.Minute, 2 * time.Minute}
	var total time.Duration
	for i, c := range chunks {
		if c.Index != i+1 {
			t.Errorf("Expected index %d, got %d", i+1, c.Index)
		}
		if c.Duration() != want[i] {
			t.Errorf("Chunk %d: expected %s, got %s", c.Index, want[i], c.Duration())
		}
		if c.Audio.Duration() != c.Duration() {
			t.Errorf("Chunk %d: audio duration %s does not match window %s", c.Index, c.Audio.Duration(), c.Duration())
		}
		if i > 0 && c.Start != chunks[i-1].End {
			t.Errorf("Chunk %d does not start where chunk %d ends", c.Index, chunks[i-1].Index)
		}
		total += c.Duration()
	}

	if total != b.Duration() {
		t.Errorf("Expected total %s, got %s", b.Duration(), total)
	}

	stats := chunker.GetStats()
	if stats.ChunksCreated != 3 {
		t.Errorf("Expected 3 chunks created, got %d", stats.ChunksCreated)
	}
}

func TestChunkerSplitUnevenSampleRate(t *testing.T) {
	// 44.1 kHz does not divide evenly into milliseconds
	b := constantBuffer(t, 1, 44100*7+13, 44100)

	chunker, err := NewChunker(ChunkingConfig{Duration: 3 * time.Second, MaxBytes: DefaultMaxChunkBytes})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks := chunker.Split(b)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	samples := 0
	var total time.Duration
	for _, c := range chunks {
		samples += c.Audio.Len()
		total += c.Duration()
	}

	if samples != b.Len() {
		t.Errorf("Expected %d samples across chunks, got %d", b.Len(), samples)
	}

	if total != b.Duration() {
		t.Errorf("Expected total %s, got %s", b.Duration(), total)
	}
}

func TestChunkerSplitEmpty(t *testing.T) {
	chunker, _ := NewChunker(ChunkingConfig{Duration: time.Second, MaxBytes: 1024})

	if chunks := chunker.Split(Empty(16000)); len(chunks) != 0 {
		t.Errorf("Expected no chunks for empty buffer, got %d", len(chunks))
	}
}

func TestChunkerMaterializeAndRelease(t *testing.T) {
	dir := t.TempDir()
	chunker, err := NewChunker(ChunkingConfig{Duration: time.Second, MaxBytes: DefaultMaxChunkBytes, TempDir: dir})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks := chunker.Split(constantBuffer(t, 100, 1500, 1000))
	enc, err := chunker.Materialize(chunks[0])
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	if enc.Size != EncodedWAVSize(1000) {
		t.Errorf("Expected size %d, got %d", EncodedWAVSize(1000), enc.Size)
	}

	if _, err := os.Stat(enc.Path); err != nil {
		t.Fatalf("Expected temp file to exist: %v", err)
	}

	if err := chunker.CheckSize(enc); err != nil {
		t.Errorf("Expected chunk to fit, got %v", err)
	}

	if err := enc.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := os.Stat(enc.Path); !os.IsNotExist(err) {
		t.Error("Expected temp file to be removed")
	}

	if err := enc.Release(); err != nil {
		t.Errorf("Second Release should be a no-op, got %v", err)
	}
}

func TestChunkerCheckSizeOversized(t *testing.T) {
	dir := t.TempDir()
	chunker, err := NewChunker(ChunkingConfig{Duration: time.Second, MaxBytes: 100, TempDir: dir})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks := chunker.Split(constantBuffer(t, 100, 1000, 1000))
	enc, err := chunker.Materialize(chunks[0])
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	defer enc.Release()

	if err := chunker.CheckSize(enc); !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("Expected ErrChunkTooLarge, got %v", err)
	}

	if chunker.GetStats().ChunksOversized != 1 {
		t.Errorf("Expected 1 oversized chunk, got %d", chunker.GetStats().ChunksOversized)
	}
}
