package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrReadDatabaseRow   = errors.New("failed to read database row")
	ErrNotRetryable      = errors.New("item is not in a retryable state")
	ErrMissingCredential = errors.New("missing api key for provider")
	ErrUnknownProvider   = errors.New("provider not implemented")
	ErrNoImage           = errors.New("no image in response")
	ErrUnknownModel      = errors.New("model not registered")
)
