package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into a mono buffer.
// go-mp3 always yields interleaved 16-bit stereo, so channels are averaged.
func DecodeMP3(r io.Reader) (*Buffer, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	frames := len(pcm) / 4
	if frames == 0 {
		return nil, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		left := int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8)
		right := int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8)
		samples[i] = int16((int32(left) + int32(right)) / 2)
	}

	return NewBuffer(samples, decoder.SampleRate())
}

// DecodeMP3File decodes the MP3 file at path
func DecodeMP3File(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer f.Close()

	return DecodeMP3(f)
}
