package model

import "errors"

var (
	// ErrEmptyRequest means no section of the request had any exercise.
	ErrEmptyRequest = errors.New("exercises request has no sections")
	// ErrGenerationUnavailable means the generation backend failed after all attempts.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrMalformedGeneration means the generator reply did not match the expected schema.
	ErrMalformedGeneration = errors.New("malformed generation")
	// ErrBadDocumentSource means the rendering service did not produce a PDF.
	ErrBadDocumentSource = errors.New("bad document source")
	// ErrPersistence means the rendered exam could not be stored.
	ErrPersistence = errors.New("exam persistence failed")
	// ErrNotFound means the requested exam does not exist for the owner.
	ErrNotFound = errors.New("exam not found")
)
