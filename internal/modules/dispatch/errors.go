// README: Dispatch sentinel errors.
package dispatch

import "errors"

var (
	ErrNotFound         = errors.New("assignment not found")
	ErrForbidden        = errors.New("courier not bound to assignment")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCapacityExceeded = errors.New("courier capacity exceeded")
	ErrInvalidState     = errors.New("invalid assignment state")
	ErrConflict         = errors.New("assignment modified concurrently")
	// errDuplicateLive is returned by stores when a job already has a non-terminal record.
	errDuplicateLive = errors.New("job already has a live assignment")
)
