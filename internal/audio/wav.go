package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// wavHeader is the canonical 44-byte header written by EncodeWAV
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// wavHeaderSize is the size of the canonical header
const wavHeaderSize = 44

// fmtChunk is the PCM "fmt " chunk body
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// ErrInvalidWAV is returned when data is not a decodable RIFF/WAVE stream
var ErrInvalidWAV = errors.New("invalid WAV data")

// WAVInfo describes a WAV stream
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodedWAVSize returns the byte size EncodeWAV produces for n samples
func EncodedWAVSize(n int) int64 {
	return int64(wavHeaderSize + n*2)
}

// DecodeWAV decodes a PCM-16 WAV stream into mono samples. Unknown RIFF
// chunks (LIST, fact, ...) are skipped and stereo input is downmixed.
func DecodeWAV(data []byte) ([]int16, int, error) {
	format, pcm, err := parseWAV(data)
	if err != nil {
		return nil, 0, err
	}

	if format.SampleRate == 0 {
		return nil, 0, fmt.Errorf("%w: sample rate is zero", ErrInvalidWAV)
	}

	if format.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}

	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono and stereo are supported)", channels)
	}

	frames := len(pcm) / (2 * channels)
	if frames == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		off := i * 2 * channels
		left := int16(binary.LittleEndian.Uint16(pcm[off:]))
		if channels == 1 {
			samples[i] = left
			continue
		}
		right := int16(binary.LittleEndian.Uint16(pcm[off+2:]))
		samples[i] = int16((int32(left) + int32(right)) / 2)
	}

	return samples, int(format.SampleRate), nil
}

// DecodeWAVFile reads a WAV file into a Buffer
func DecodeWAVFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}

	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	b, err := NewBuffer(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidWAV, path, err)
	}
	return b, nil
}

// WriteWAVFile encodes the buffer and writes it to path
func WriteWAVFile(path string, b *Buffer) error {
	data, err := b.EncodeWAV()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write WAV file %s: %w", path, err)
	}

	return nil
}

// GetWAVInfo extracts metadata from a WAV stream
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	format, pcm, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	if format.BitsPerSample == 0 || format.NumChannels == 0 || format.SampleRate == 0 {
		return nil, fmt.Errorf("%w: incomplete fmt chunk", ErrInvalidWAV)
	}

	bytesPerFrame := uint32(format.BitsPerSample/8) * uint32(format.NumChannels)
	numSamples := uint32(len(pcm)) / bytesPerFrame

	return &WAVInfo{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		Duration:      float64(numSamples) / float64(format.SampleRate),
		DataSize:      uint32(len(pcm)),
		NumSamples:    numSamples,
	}, nil
}

// parseWAV walks the RIFF chunk list and returns the fmt chunk and the
// raw bytes of the data chunk
func parseWAV(data []byte) (*fmtChunk, []byte, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("%w: need at least 12 bytes, got %d", ErrInvalidWAV, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}

	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	}

	var format *fmtChunk
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, nil, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			var f fmtChunk
			if err := binary.Read(bytes.NewReader(data[body:body+16]), binary.LittleEndian, &f); err != nil {
				return nil, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if f.AudioFormat != formatPCM && f.AudioFormat != formatExtensible {
				return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", f.AudioFormat)
			}
			format = &f

		case "data":
			if format == nil {
				return nil, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + size
			// Streams written to a pipe carry a placeholder size
			if size == 0 || end > len(data) {
				end = len(data)
			}
			return format, data[body:end], nil
		}

		// Chunks are word aligned
		pos = body + size + size%2
	}

	if format == nil {
		return nil, nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	return nil, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
