package alerts

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrNoData         = errors.New("no data")
	ErrDataSource     = errors.New("data source error")
	ErrNotImplemented = errors.New("not implemented")
)

type ValidationError struct {
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Problem
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Problem)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NoDataError means the window held no rows for the metric. It is not a breach.
type NoDataError struct {
	Metric  string
	Dataset string
	Window  string
}

func (e *NoDataError) Error() string {
	if e.Window == "" {
		return fmt.Sprintf("no data found for KPI %q in %s", e.Metric, e.Dataset)
	}
	return fmt.Sprintf("no data found for KPI %q in %s over the last %s", e.Metric, e.Dataset, e.Window)
}

func (e *NoDataError) Is(target error) bool { return target == ErrNoData }

type DataSourceError struct {
	Op  string
	Err error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DataSourceError) Is(target error) bool { return target == ErrDataSource }

func (e *DataSourceError) Unwrap() error { return e.Err }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Problem: fmt.Sprintf(format, args...)}
}
