package broker

import "errors"

// Sentinel errors, compared with errors.Is — mirrors the teacher's own
// small sentinel-error set in internal/rpc/errors.go.
var (
	// ErrResponseTimeout is returned by Call when no response arrives
	// before the caller's timeout (spec §4.1 RPC pattern step 4).
	ErrResponseTimeout = errors.New("broker: timed out waiting for response")

	// ErrNotFound is returned by reads of a key that does not exist or
	// whose TTL has expired.
	ErrNotFound = errors.New("broker: key not found")

	// ErrConnectFailed is returned when all connect retries are exhausted.
	ErrConnectFailed = errors.New("broker: failed to connect")
)
