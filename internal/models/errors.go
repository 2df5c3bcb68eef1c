package models

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("not authorized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleStage        = errors.New("stale stage token")
	ErrNothingToExport   = errors.New("no minutes to export")
	ErrMissingTranscript = fmt.Errorf("transcript %w", ErrNotFound)
	ErrInvalidInput      = errors.New("invalid input")
)

// FailureKind classifies why a pipeline stage moved a meeting to FAILED.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureConfig   FailureKind = "config"
	FailureRemote   FailureKind = "remote"
	FailureParse    FailureKind = "parse"
	FailureTimedOut FailureKind = "timed_out"
)

// StageError is returned by pipeline stages so the caller can record the failure kind.
type StageError struct {
	Stage string
	Kind  FailureKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a stage name and failure kind.
func NewStageError(stage string, kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err; unclassified errors count as remote failures.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureRemote
}

// Clip shortens s to at most n bytes without cutting a multi-byte character in half.
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
