package realtime

import "errors"

// Rejection reasons surfaced to clients as error events. A rejected
// operation never mutates shared state and never closes the connection.
var (
	ErrUnauthenticated = errors.New("connection is not authenticated")
	ErrInvalidPayload  = errors.New("payload is missing required fields")
	ErrForbidden       = errors.New("operation not permitted for this identity")
)

// ErrorCode maps a rejection to the wire-level error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	}
	return "INTERNAL"
}
