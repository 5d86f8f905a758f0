// Package pipeline sequences the processing of one recording: conversion to
// mono WAV, loading, silence trimming, optional diarization, chunking and
// transcription. Each stage either hands its product to the next or ends the
// run with a *StageError.
package pipeline
