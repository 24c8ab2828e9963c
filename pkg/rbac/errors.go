package rbac

import "errors"

var (
	// ErrStoreUnavailable wraps every credential store failure, including
	// query timeouts
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrNotFound is returned when a principal, role or permission does not exist
	ErrNotFound = errors.New("not found")
)
