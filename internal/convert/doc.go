// Package convert normalizes recordings to mono PCM-16 WAV by running
// ffmpeg from an explicitly resolved location.
package convert
