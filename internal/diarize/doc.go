// Package diarize attributes time ranges of a recording to speakers.
//
// A Model (sherpa-onnx or an external command) emits unordered turns in
// fractional seconds. The Adapter converts them to millisecond segments
// sliced from the trimmed buffer and orders them by start time. Writing
// segments to disk is left to the optional Exporter.
package diarize
