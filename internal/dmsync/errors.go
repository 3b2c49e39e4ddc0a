package dmsync

import "errors"

var (
	// ErrBusy is returned when a sync operation is requested while another
	// one is still running. Overlapping syncs are never allowed.
	ErrBusy = errors.New("dmsync: sync already in progress")

	// ErrNotLoggedIn is returned by operations that need an open session.
	ErrNotLoggedIn = errors.New("dmsync: not logged in")

	// ErrLoadFailed wraps a full load that could not query any relay. Start
	// retries on it; the archive replay is kept either way.
	ErrLoadFailed = errors.New("dmsync: load failed")
)
