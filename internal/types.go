// internal/types.go - Common types for internal packages
package internal

import (
	"errors"
	"time"
)

// SourceType represents the type of GeoJSON tile source
type SourceType string

const (
	SourceTypeHTTP  SourceType = "http"
	SourceTypeLocal SourceType = "local"
)

// ProcessingStats represents metrics for extraction runs
type ProcessingStats struct {
	TotalTiles     int64
	ProcessedTiles int64
	FailedTiles    int64
	TotalFeatures  int64
	StartTime      time.Time
	EndTime        time.Time
	Throughput     float64
}

// Finish stamps the end time and computes throughput in tiles per second
func (s *ProcessingStats) Finish() {
	s.EndTime = time.Now()
	if elapsed := s.EndTime.Sub(s.StartTime).Seconds(); elapsed > 0 {
		s.Throughput = float64(s.ProcessedTiles) / elapsed
	}
}

// Error represents application-specific errors
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new application error
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// HasCode reports whether any error in the chain is an application error with the given code
func HasCode(err error, code string) bool {
	var appErr *Error
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// ErrorCode constants for common error types
const (
	ErrorCodeNetwork    = "NETWORK_ERROR"
	ErrorCodeProcessing = "PROCESSING_ERROR"
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeConfig     = "CONFIG_ERROR"
	ErrorCodeNotFound   = "NOT_FOUND"
	ErrorCodeTimeout    = "TIMEOUT_ERROR"
	ErrorCodeFileSystem = "FILESYSTEM_ERROR"
	ErrorCodePermission = "PERMISSION_ERROR"
	ErrorCodeMalformed  = "MALFORMED_DOCUMENT"
)
