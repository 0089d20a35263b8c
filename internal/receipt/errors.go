package receipt

import "errors"

var (
	// ErrNotAuthenticated is returned when no user session is available
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound is returned for unknown drafts and receipts, including
	// those owned by another user
	ErrNotFound = errors.New("not found")

	// ErrSaveInProgress is returned when a draft is already being saved
	ErrSaveInProgress = errors.New("save already in progress")

	// ErrTooManyDrafts is returned when a user already holds the maximum
	// number of unsaved drafts
	ErrTooManyDrafts = errors.New("too many unsaved drafts")

	// ErrInvalidDraft is returned when a draft cannot be saved or edited as requested
	ErrInvalidDraft = errors.New("invalid draft")

	// ErrExtractionParse is returned when the extraction model's output
	// does not match any known result shape
	ErrExtractionParse = errors.New("extraction result could not be parsed")

	// ErrInvalidRequest is returned for malformed query parameters
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUpload is returned when the receipt image could not be stored
	ErrUpload = errors.New("image upload failed")

	// ErrPersistence is returned when the receipt or its items could not be written
	ErrPersistence = errors.New("persisting receipt failed")
)
