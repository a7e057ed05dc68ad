package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPayload marks a listing response that carried no symbols.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrInvalidLimit is returned when a symbol limit is not positive.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// BackendError is an error message reported by the scan backend in an
// otherwise successful response.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %s", e.Status)
}

// FetchError is returned when the symbol set for a venue cannot be resolved.
type FetchError struct {
	Venue  Venue
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch symbols for %s from %s: %v", e.Venue, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ScanError is returned when a scan request fails.
type ScanError struct {
	Venue Venue
	Err   error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Venue, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}
