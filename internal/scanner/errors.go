package scanner

import "errors"

var (
	// ErrAlreadyRunning is returned by StartScan when a scan task is already live.
	ErrAlreadyRunning = errors.New("scanner: already running")
	// ErrNoFrequencies is returned by StartScan when the resolved scan list is empty.
	ErrNoFrequencies = errors.New("scanner: no frequencies to scan")
	// ErrNotRunning is returned by StopScan when no scan task is live.
	ErrNotRunning = errors.New("scanner: not running")
)
