// Package audio holds decoded recordings in memory and cuts them into chunks.
// It implements an immutable PCM-16 buffer with slicing and concatenation,
// WAV and MP3 decoding, WAV encoding, and fixed-duration chunking with
// encoded-size screening for the transcription service.
package audio
