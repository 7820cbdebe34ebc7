package models

import "time"

const (
	// DefaultDispatchBackoff is the first delay after a run could not be dispatched.
	DefaultDispatchBackoff = 20 * time.Second

	// MaxDispatchBackoff caps the dispatch backoff.
	MaxDispatchBackoff = 5 * time.Hour

	// ResyncJobTag identifies the single queued reconciliation request.
	ResyncJobTag = "DelayedTrackingUpdate"

	// DefaultProbeAddress is dialed to decide whether the network is reachable.
	DefaultProbeAddress = "1.1.1.1:443"

	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second

	// DefaultRedisPendingPrefix prefixes the per-kind redis sets of pending markers.
	DefaultRedisPendingPrefix = "resync:pending"
)
