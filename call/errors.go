package call

import "errors"

// Sentinel errors for call package operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrManagerClosed indicates an operation on a shut down call
	// manager.
	ErrManagerClosed = errors.New("call manager is closed")
)
