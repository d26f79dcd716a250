// Package out defines outbound ports (driven ports) for the application.
package out

import "errors"

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrEventNotFound is returned by calendar adapters when the remote
	// event is gone (404 or 410).
	ErrEventNotFound = errors.New("calendar event not found")
)
