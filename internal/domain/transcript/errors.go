package transcript

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrMalformedDocument is returned when a document body is not a JSON object.
	ErrMalformedDocument = errors.New("malformed transcript document")
	// ErrReadDocuments is returned when a result directory cannot be listed or read.
	ErrReadDocuments = errors.New("read transcript documents failed")
	// ErrMalformedTiming is returned when a timing artifact cannot be decoded.
	ErrMalformedTiming = errors.New("malformed speaker timing")
)
