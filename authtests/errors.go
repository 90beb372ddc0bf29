package authtests

import (
	"errors"

	"github.com/jsonrpc-itest/auth-contract-tests/rpc"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"
)

var (
	// ErrTimeout is returned by Correlator.Wait when the expected count is not reached in time.
	ErrTimeout = errors.New("timed out waiting for notifications")

	// ErrTokenMismatch is returned by SessionGroup.Create when a restored connection reports a
	// different token than the one it was restored with.
	ErrTokenMismatch = errors.New("restored session token does not match")

	// ErrNotStarted is returned by Connection methods that need an open channel.
	ErrNotStarted = errors.New("connection is not started")

	// ErrUnknownNotification is returned when registering a trap for a notification kind that
	// has no decoder.
	ErrUnknownNotification = errors.New("unknown notification kind")

	// ErrGroupNotFound is returned by SessionGroup.DiscoverID when no listed connection
	// belongs to the group's user.
	ErrGroupNotFound = errors.New("group not found in connection list")
)

// CodeOf returns the service error code carried by err, if err is or wraps a remote error.
func CodeOf(err error) (servicedef.ErrorCode, bool) {
	var callErr *rpc.CallError
	if errors.As(err, &callErr) {
		return servicedef.ErrorCode(callErr.Code), true
	}
	return 0, false
}
