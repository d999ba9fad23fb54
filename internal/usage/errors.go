package usage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWindow marks a rejected reporting window. Never retried.
	ErrInvalidWindow = errors.New("invalid window")
	// ErrDataFormat marks a malformed resource record.
	ErrDataFormat = errors.New("malformed resource record")
	// ErrDuplicateMetric marks a metric imported twice for the same tenant.
	ErrDuplicateMetric = errors.New("duplicate metric")
	// ErrSourceUnavailable marks a failed backend fetch.
	ErrSourceUnavailable = errors.New("source unavailable")
)

// WindowError describes why a window was rejected.
type WindowError struct {
	Reason string
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("invalid window: %s", e.Reason)
}

func (e *WindowError) Unwrap() error { return ErrInvalidWindow }

// DataFormatError reports a record that cannot be aggregated.
type DataFormatError struct {
	ResourceID string
	Field      string
	Value      string
	Err        error
}

func (e *DataFormatError) Error() string {
	msg := fmt.Sprintf("malformed resource record %q: field %s", e.ResourceID, e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" value %q", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataFormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDataFormat}
	}
	return []error{ErrDataFormat, e.Err}
}

// DuplicateMetricError is raised when a tenant already carries a metric name.
type DuplicateMetricError struct {
	TenantID string
	Metric   string
}

func (e *DuplicateMetricError) Error() string {
	return fmt.Sprintf("metric %s already exists for tenant %s", e.Metric, e.TenantID)
}

func (e *DuplicateMetricError) Unwrap() error { return ErrDuplicateMetric }

// SourceError wraps a failed fetch from a named backend.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}
