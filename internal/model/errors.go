package model

import "errors"

var (
	// ErrInvalidMessage is returned for a malformed or incomplete payload.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrSameParticipant is returned when sender and receiver are the same identity.
	ErrSameParticipant = errors.New("sender and receiver must differ")
	// ErrContentTooLong is returned when content exceeds the configured limit.
	ErrContentTooLong = errors.New("content exceeds maximum length")
	// ErrInvalidIdentity is returned for an identity that cannot be stored or addressed.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrNotJoined is returned for events sent before join.
	ErrNotJoined = errors.New("connection has not joined")
	// ErrIdentityMismatch is returned when a payload names someone other than the caller.
	ErrIdentityMismatch = errors.New("identity does not match authenticated user")
	// ErrRateLimited is returned when a connection sends faster than allowed.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrForbidden is returned when the caller may not act on the target.
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownEvent is returned for an event name the server does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// ErrorCode maps an error to the short code sent in error acknowledgements.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSameParticipant):
		return "same_participant"
	case errors.Is(err, ErrContentTooLong):
		return "content_too_long"
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidIdentity):
		return "invalid_payload"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	default:
		return "internal_error"
	}
}
