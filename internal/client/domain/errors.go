package domain

import (
	"errors"
	"fmt"
)

// Category is the coarse failure class handed back to callers.
type Category string

const (
	// AuthExpired: refresh failed or there is no refresh token. The session
	// must be re-established.
	AuthExpired Category = "auth_expired"
	// Transient: retryable failure that used up its retry budget.
	Transient Category = "transient"
	// Permanent: the server rejected the call in a way retrying won't fix.
	Permanent Category = "permanent"
	// StorageFailure: the durable store could not complete a read or write.
	StorageFailure Category = "storage_failure"
	// ConfigurationFailure: malformed request. A programming error.
	ConfigurationFailure Category = "configuration_failure"
)

var userMessages = map[Category]string{
	AuthExpired:          "Your session has expired. Please sign in again.",
	Transient:            "We couldn't reach the server. Please try again shortly.",
	Permanent:            "The request could not be completed.",
	StorageFailure:       "This change could not be saved on your device and may be lost.",
	ConfigurationFailure: "Something went wrong on our side.",
}

// Error is a terminal outcome. Message is safe to show to end users; Status
// and Err are diagnostics for logs only.
type Error struct {
	Category Category
	Message  string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s (status %d): %v", e.Category, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", e.Category, e.Status)
	default:
		return string(e.Category)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the short human readable message for e.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return userMessages[e.Category]
}

func newError(c Category, status int, err error) *Error {
	return &Error{Category: c, Message: userMessages[c], Status: status, Err: err}
}

func NewAuthExpired(err error) *Error           { return newError(AuthExpired, 0, err) }
func NewTransient(status int, err error) *Error { return newError(Transient, status, err) }
func NewPermanent(status int, err error) *Error { return newError(Permanent, status, err) }
func NewStorageFailure(err error) *Error        { return newError(StorageFailure, 0, err) }
func NewConfigurationFailure(err error) *Error  { return newError(ConfigurationFailure, 0, err) }

// CategoryOf returns the category of the first *Error in err's chain, or ""
// if there is none.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// IsCategory reports whether err carries category c.
func IsCategory(err error, c Category) bool {
	return err != nil && CategoryOf(err) == c
}

// UserMessage extracts the end-user message from err, falling back to a
// generic one for errors outside the taxonomy.
func UserMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.UserMessage()
	}
	return userMessages[Permanent]
}
