package scheduling

import (
	"errors"
	"fmt"
)

// Callers classify failures with errors.Is against these values. Package
// errors from the store, directory and remote service are wrapped alongside
// them.
var (
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous also matches ErrNotFound: an ambiguous target is never
	// guessed, so callers that only handle "absent" still abort.
	ErrAmbiguous               = fmt.Errorf("ambiguous match: %w", ErrNotFound)
	ErrSlotUnavailable         = errors.New("slot unavailable")
	ErrRemoteUnavailable       = errors.New("remote agenda unavailable")
	ErrRemoteWriteFailed       = errors.New("remote agenda write failed")
	ErrLocalPersistenceCorrupt = errors.New("local appointment store is corrupt or out of sync")
	ErrInvalidInput            = errors.New("invalid input")
	ErrHalted                  = errors.New("engine halted until the local cache is refreshed")
	ErrInvalidTransition       = errors.New("invalid state transition")
)
