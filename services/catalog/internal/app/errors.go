package app

import "errors"

var (
	ErrPackNotFound    = errors.New("pack not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrContentNotReady = errors.New("content not available yet")
	ErrInvalidPackType = errors.New("invalid pack type")

	// ErrPaymentRequired is returned when content is requested for a pack
	// the user has not purchased.
	ErrPaymentRequired = errors.New("pack not purchased")

	ErrTitleRequired   = errors.New("title required")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrSubjectRequired = errors.New("subject required")
)
