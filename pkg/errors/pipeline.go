package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

// Batch and row outcome codes.
const (
	ErrIngestionEmpty       ErrorCode = "ingestion_empty"
	ErrRowEnrichmentFailure ErrorCode = "row_enrichment_failure"
	ErrValidationWarning    ErrorCode = "validation_warning"
	ErrHardFieldMissing     ErrorCode = "hard_field_missing"
	ErrEmissionFailure      ErrorCode = "emission_failure"
)

// Classification codes for external call failures.
const (
	ErrTimeout          ErrorCode = "timeout"
	ErrRateLimit        ErrorCode = "rate_limit"
	ErrModelUnavailable ErrorCode = "model_unavailable"
	ErrContextCancelled ErrorCode = "context_cancelled"
	ErrParseError       ErrorCode = "parse_error"
	ErrProcessingError  ErrorCode = "processing_error"
)

// PipelineError is a structured error for pipeline failures.
type PipelineError struct {
	Code    ErrorCode
	Stage   string
	RowID   int
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError builds a PipelineError with an explicit code.
func NewPipelineError(code ErrorCode, stage, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Message: message, Cause: cause}
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// Errors that already carry a code keep it. Anything unrecognised becomes ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		pe := *existing
		if pe.Stage == "" {
			pe.Stage = stage
		}
		return &pe
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	}

	if errors.Is(err, context.Canceled) {
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	pe.Message = msg

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		pe.Code = ErrTimeout
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests") || strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "resource_exhausted"):
		pe.Code = ErrRateLimit
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "no such host"):
		pe.Code = ErrModelUnavailable
	case strings.Contains(lower, "parse") || strings.Contains(lower, "invalid character") ||
		strings.Contains(lower, "unexpected end of json"):
		pe.Code = ErrParseError
	default:
		pe.Code = ErrProcessingError
	}
	return pe
}

// CodeOf returns the classified code of err, or ErrProcessingError when err carries none.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrProcessingError
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return false
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying by hand.
func IsErrorRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return IsRetryable(pe.Code)
	}
	return false
}
