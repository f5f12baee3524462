package domain

import "errors"

var (
	// ErrNotFound reports a repository miss.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed reports that another worker claimed the message
	// first. The loser skips the message without treating it as a failure.
	ErrAlreadyProcessed = errors.New("message already processed")
)
