package session

import "errors"

// Every request failure is reported, logged and otherwise a no-op; none of
// these errors leave the session or graph in a modified state.
var (
	ErrNotAuthorized      = errors.New("caller is not authoritative")
	ErrTooFewParticipants = errors.New("not enough active participants")
	ErrAlreadyRunning     = errors.New("session already in progress")
	ErrSessionEnded       = errors.New("session has ended")
	ErrNotInProgress      = errors.New("session is not in progress")
	ErrUnknownParticipant = errors.New("participant is not active")
	ErrAlreadyRegistered  = errors.New("participant id already registered")
	ErrSelfKill           = errors.New("participant cannot eliminate itself")
	ErrBusy               = errors.New("coordinator inbox full")
	ErrStopped            = errors.New("coordinator stopped")
)
