package tsdconv

import "errors"

// Conversion failures. Errors returned by the readers and writers wrap one of these where they
// apply, so callers can test for them with errors.Is.
var (
	ErrMissingFile     = errors.New("missing file")
	ErrMalformedRecord = errors.New("malformed record")
	ErrUnknownClass    = errors.New("unknown class")
)
