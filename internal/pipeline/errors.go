package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a pipeline step
type Stage string

const (
	StageConvert    Stage = "convert"
	StageLoad       Stage = "load"
	StageTrim       Stage = "trim"
	StageDiarize    Stage = "diarize"
	StageTranscribe Stage = "transcribe"
)

// Kind classifies a terminal stage failure
type Kind string

const (
	KindConversion    Kind = "conversion"
	KindLoad          Kind = "load"
	KindAllSilent     Kind = "all_silent"
	KindDiarization   Kind = "diarization"
	KindTranscription Kind = "transcription"
	KindCanceled      Kind = "canceled"
	KindInternal      Kind = "internal"
)

// StageError is the terminal failure of one stage
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or an empty Kind when err is not
// a *StageError
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
