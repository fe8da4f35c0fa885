package model

import (
	"errors"
	"fmt"
)

// Stable error categories reported through ErrorKind.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindTransport  = "transport"
)

// ErrorClassifier is implemented by errors that carry a stable category.
type ErrorClassifier interface {
	ErrorKind() string
}

// ValidationError rejects caller input before any side effect happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) ErrorKind() string { return KindValidation }

// FieldDetail returns the offending field and the reason.
func (e *ValidationError) FieldDetail() (field, message string) { return e.Field, e.Message }

// NotFoundError is returned when a correction or completion targets a missing record.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

func (e *NotFoundError) ErrorKind() string { return KindNotFound }

// TransportError wraps a broker or store failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) ErrorKind() string { return KindTransport }

// Transport wraps err as a TransportError unless it already carries a category.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified ErrorClassifier
	if errors.As(err, &classified) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Kind returns the category of err, or an empty string when it has none.
func Kind(err error) string {
	var classified ErrorClassifier
	if errors.As(err, &classified) {
		return classified.ErrorKind()
	}
	return ""
}
