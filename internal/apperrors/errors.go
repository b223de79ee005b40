// Package apperrors is the typed error taxonomy of the engine (§7). Call
// sites use errors.Is / errors.As instead of the "AttributeError from a
// null row" control flow the original Python source relied on.
package apperrors

import "github.com/pkg/errors"

// Sentinel errors. Wrap these with errors.Wrapf / fmt.Errorf("%w: ...") to
// add context while keeping errors.Is working.
var (
	// ErrNotFound means a query yielded zero rows where one was required.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest means an argument failed to parse.
	ErrBadRequest = errors.New("bad request")

	// ErrAlreadyJoined means a discover call raced a live TTL-cache entry.
	ErrAlreadyJoined = errors.New("already joined")

	// ErrMaxChatsExceeded means a session's join cap was reached.
	ErrMaxChatsExceeded = errors.New("max chats exceeded")

	// ErrTaskFailed means a backfill task exhausted its retry budget.
	ErrTaskFailed = errors.New("task failed")
)

// NotFound wraps ErrNotFound with the name of the entity that was missing.
func NotFound(entity string) error {
	return errors.Wrap(ErrNotFound, entity)
}

// BadRequest wraps ErrBadRequest with a reason.
func BadRequest(reason string) error {
	return errors.Wrap(ErrBadRequest, reason)
}
