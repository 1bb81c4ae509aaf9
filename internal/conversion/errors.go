package conversion

import (
	"errors"
	"fmt"
)

// Stage names a pipeline stage for error reporting.
type Stage string

const (
	StageExtraction   Stage = "extraction"
	StageReformatting Stage = "reformatting"
	StageAssembly     Stage = "assembly"
)

var (
	// ErrInvalidInput is returned by intake for files that are not PDFs.
	ErrInvalidInput = errors.New("invalid input: a PDF file is required")
	// ErrBusy is returned while a run is in flight.
	ErrBusy = errors.New("a conversion is already running")
	// ErrNoFile is returned when a run is started before a file was loaded.
	ErrNoFile = errors.New("no file loaded")

	ErrExtraction   = errors.New("extraction failed")
	ErrReformatting = errors.New("reformatting failed")
	ErrAssembly     = errors.New("document assembly failed")
)

// StageError is a pipeline failure attributed to the stage that raised it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failed stage.
func (e *StageError) Is(target error) bool {
	switch e.Stage {
	case StageExtraction:
		return target == ErrExtraction
	case StageReformatting:
		return target == ErrReformatting
	case StageAssembly:
		return target == ErrAssembly
	}
	return false
}

// FailedStage returns the stage recorded on err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
