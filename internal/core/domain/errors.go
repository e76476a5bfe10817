package domain

import "errors"

var (
	ErrAlreadyInCall        = errors.New("already in a call")
	ErrNotInCall            = errors.New("no active call")
	ErrMediaAccessDenied    = errors.New("media access denied")
	ErrSignalDeliveryFailed = errors.New("signal delivery failed")
	ErrRemoteLookupFailed   = errors.New("remote user lookup failed")
	ErrTransportFailed      = errors.New("transport failed")
	ErrUserBusy             = errors.New("user busy")
	ErrUserNotFound         = errors.New("user not found")
	ErrSessionNotFound      = errors.New("call session not found")
	ErrClosed               = errors.New("call service closed")
)

// ErrorForReason maps an end reason to the error surfaced with onCallEnded.
// Ordinary endings map to nil.
func ErrorForReason(r EndReason) error {
	switch r {
	case ReasonBusy:
		return ErrUserBusy
	case ReasonTransportFailed:
		return ErrTransportFailed
	case ReasonSignalFailed:
		return ErrSignalDeliveryFailed
	case ReasonMediaDenied:
		return ErrMediaAccessDenied
	}
	return nil
}
