package search

import "errors"

var (
	// ErrAlreadyInProgress is returned when a search for the same person is running.
	ErrAlreadyInProgress = errors.New("search already in progress for this person")
	// ErrNoReference is returned when the person has no verified face and
	// none can be extracted from the primary photo.
	ErrNoReference = errors.New("no reference face available")
	// ErrPersonNotFound is returned for unknown person ids.
	ErrPersonNotFound = errors.New("person not found")
	// ErrStoreUnavailable wraps failures to read or open the embedding store.
	ErrStoreUnavailable = errors.New("embedding store unavailable")
	// ErrSaveFailed wraps failures to commit search results.
	ErrSaveFailed = errors.New("saving search results failed")
	// ErrClosed is returned by searches started after Close.
	ErrClosed = errors.New("orchestrator closed")
)
