package core

import "errors"

var (
	// ErrIOFailure covers filesystem and metadata store failures.
	ErrIOFailure = errors.New("i/o failure")
	// ErrNotFound means the referenced image record or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the requester may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidName means the filename cannot be stored flat under the upload root.
	ErrInvalidName = errors.New("invalid image name")
	// ErrInvalidPage means a negative page number or page size was requested.
	ErrInvalidPage = errors.New("invalid page request")
)
