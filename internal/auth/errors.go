package auth

import "errors"

// Error categories. Every error returned by this package and by the resource
// directory wraps exactly one of them.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("not authenticated")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Error is a categorised failure with a short message safe to show to callers.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// E builds an *Error of the given category.
func E(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Message returns the caller-facing text of err, or "" when err carries none.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}

var (
	errInvalidCredentials = E(ErrAuth, "invalid email or password")
	errInvalidToken       = E(ErrAuth, "not authorized, token failed")
	errAdminOnly          = E(ErrForbidden, "Admin access only")
)
