package comic

import "errors"

// Error taxonomy shared by sources, the fetch client and the HTTP layer.
var (
	// ErrNotFound reports that an identifier has no strip. Terminal, never retried.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParameter reports a malformed identifier, rejected before any network call.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUpstream reports an upstream failure that could not be degraded to a miss.
	ErrUpstream = errors.New("upstream fetch failed")
	// ErrParse reports fetched content without the expected structure.
	ErrParse = errors.New("parse failed")
)
