package app

import "errors"

var (
	// ErrSessionNotFound indicates the target session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnsupportedFormat indicates the uploaded file type cannot be
	// extracted. Only PDF and HTML exports are accepted.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)
