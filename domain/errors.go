package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindStaleRevision ErrorKind = "stale_revision"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

// Error is a rejection of a single operation. It never affects other
// connections or rooms.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches sentinel errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrStaleRevision = &Error{Kind: KindStaleRevision}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrInternal      = &Error{Kind: KindInternal}
)

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authorizationf(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// StaleRevisionError rejects a playback command issued against an old
// revision. Current is the state the issuer must resync to; LivePosition is
// that state's position computed at ServerTime (Unix milliseconds).
type StaleRevisionError struct {
	Issued       uint64
	Current      PlaybackState
	LivePosition float64
	ServerTime   int64
}

func (e *StaleRevisionError) Error() string {
	return fmt.Sprintf("stale_revision: command revision %d is behind %d", e.Issued, e.Current.Revision)
}

func (e *StaleRevisionError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindStaleRevision && t.Message == ""
}

// KindOf classifies err, treating anything outside the taxonomy as internal.
func KindOf(err error) ErrorKind {
	var stale *StaleRevisionError
	if errors.As(err, &stale) {
		return KindStaleRevision
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
