package order

import "errors"

var (
	ErrNotFound          = errors.New("order: not found")
	ErrAlreadyExists     = errors.New("order: already exists")
	ErrEmptyOrder        = errors.New("order: must contain at least one item")
	ErrIDMismatch        = errors.New("order: id mismatch")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrDeleted           = errors.New("order: order is deleted")
	ErrAlreadyDeleted    = errors.New("order: already deleted")
	ErrInvalidState      = errors.New("order: only pending or cancelled orders can be deleted")
	ErrUnknownStatus     = errors.New("order: unknown status")
	ErrUnknownEvent      = errors.New("order: unknown event type")
)
