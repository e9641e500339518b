package contract

import "errors"

var (
	ErrTenantNotFound           = errors.New("tenant not found")
	ErrLanguageModelUnavailable = errors.New("language model unavailable")
	ErrParseFailure             = errors.New("model output could not be parsed")
	ErrAvailabilityConflict     = errors.New("requested slot is not available")
	ErrCommitPersistence        = errors.New("commit persistence failed")
	ErrInactivityTimeout        = errors.New("session inactivity timeout")
	ErrSessionAbandoned         = errors.New("session abandoned")
	ErrValidation               = errors.New("validation failed")
	ErrTurnCancelled            = errors.New("turn cancelled")
)
