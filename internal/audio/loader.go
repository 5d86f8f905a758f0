package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned by Load for extensions it cannot decode
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Load decodes a waveform file selected by extension (.wav or .mp3)
func Load(path string) (*Buffer, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		return DecodeWAVFile(path)
	case ".mp3":
		return DecodeMP3File(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// CanLoad reports whether Load understands the file extension
func CanLoad(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave", ".mp3":
		return true
	}
	return false
}
