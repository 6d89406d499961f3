package dispatch

import "net/http"

// ErrorKind enumerates the error contracts defined for the HTTP edge.
type ErrorKind string

const (
	KindInvalidToken ErrorKind = "invalid_token"
	KindInvalidModel ErrorKind = "invalid_model"
	KindNotFound     ErrorKind = "not_found"
	KindTimeout      ErrorKind = "timeout"
	KindMissingField ErrorKind = "missing_field"
	KindInternal     ErrorKind = "internal_error"
)

// Error is a dispatcher-level failure carrying enough information for the
// HTTP edge to render the {error:{message,type,...}} envelope without
// knowing dispatcher internals.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidToken:
		return http.StatusUnauthorized
	case KindInvalidModel, KindMissingField:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Type returns the OpenAI-style error "type" string for this error's kind.
func (e *Error) Type() string {
	switch e.Kind {
	case KindInvalidToken:
		return "authentication_error"
	case KindInvalidModel, KindMissingField:
		return "invalid_request_error"
	case KindNotFound:
		return "not_found_error"
	case KindTimeout:
		return "timeout_error"
	default:
		return "internal_error"
	}
}

func errInvalidToken(msg string) *Error { return &Error{Kind: KindInvalidToken, Message: msg} }
func errInvalidModel(msg string) *Error { return &Error{Kind: KindInvalidModel, Message: msg} }
func errNotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Message: msg} }
func errTimeout(msg string) *Error      { return &Error{Kind: KindTimeout, Message: msg} }
func errMissingField(msg string) *Error { return &Error{Kind: KindMissingField, Message: msg} }
