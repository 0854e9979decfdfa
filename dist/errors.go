package dist

import "errors"

// Error taxonomy for the connection layer (spec.md §7, "Transport").
var (
	ErrTransport  = errors.New("dist: transport error")
	ErrHandshake  = errors.New("dist: handshake failed")
	ErrBadDigest  = errors.New("dist: challenge digest mismatch")
	ErrClosed     = errors.New("dist: connection closed")
)
