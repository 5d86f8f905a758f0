// Package vad detects silence in PCM-16 buffers using windowed RMS energy
// against a dBFS threshold, and trims it away while keeping short pre-roll
// before the first speech boundary.
package vad
