package call

import "errors"

var (
	// ErrUnhandled means no trigger matched the payload. The payload is
	// dropped and no state changes.
	ErrUnhandled = errors.New("unhandled event: no trigger matched")

	// ErrInvalidCallID rejects a user action that carries no call id.
	ErrInvalidCallID = errors.New("invalid argument: call id is required")

	// ErrMalformedPayload means call data could not be extracted at all,
	// as opposed to individual fields falling back to defaults.
	ErrMalformedPayload = errors.New("malformed payload")
)
