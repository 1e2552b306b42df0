package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConfigMismatch   = errors.New("configuration mismatch")
	ErrMalformedInput   = errors.New("malformed input")
	ErrSegmentation     = errors.New("segmentation failure")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ConfigMismatchError reports that the number of input corpora and
// vocabulary outputs differ.
type ConfigMismatchError struct {
	Inputs  int
	Outputs int
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("number of input files (%d) and vocabulary files (%d) must match", e.Inputs, e.Outputs)
}

func (e *ConfigMismatchError) Is(target error) bool {
	return target == ErrConfigMismatch || target == ErrInvalidConfig
}

// MalformedInputError reports a line that could not be parsed.
// Line is 0-based.
type MalformedInputError struct {
	Source string
	Line   int
	Raw    string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s: failed reading line %d: %q: %s", e.Source, e.Line, e.Raw, e.Reason)
}

func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput || target == ErrInvalidInput
}

// SegmentationError reports a word the applier refused to segment.
// When Malformed is set the failure happened while re-reading a dictionary
// corpus and is also reported as malformed input.
type SegmentationError struct {
	Source    string
	Line      int
	Word      string
	Malformed bool
	Err       error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("%s: failed segmenting line %d: %q: %v", e.Source, e.Line, e.Word, e.Err)
}

func (e *SegmentationError) Unwrap() error { return e.Err }

func (e *SegmentationError) Is(target error) bool {
	if target == ErrSegmentation {
		return true
	}
	return e.Malformed && target == ErrMalformedInput
}
