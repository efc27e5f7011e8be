package client

import (
	"context"
	"errors"

	"github.com/luma/sled/internal/metrics"
)

var (
	// ErrTimeout is returned when a call's timeout elapses before its response
	// arrives. The channel is still usable, so a timed out call can be retried.
	ErrTimeout = errors.New("Call timed out waiting for a response")

	// ErrSendFailed is returned when the request could not be written. The
	// channel is closed afterwards.
	ErrSendFailed = errors.New("Failed to send request")

	// ErrClosed is returned to every call still in flight once the channel
	// closes, whether Close was called or the remote went away.
	ErrClosed = errors.New("Channel is closed")

	// ErrInvalidRequest is returned for a request containing CR or LF. It
	// would reach the server as more than one frame and shift every reply
	// after it onto the wrong call.
	ErrInvalidRequest = errors.New("Request must not contain CR or LF")

	ErrAuthFailed      = errors.New("Server rejected the handshake secret")
	ErrUnexpectedReply = errors.New("Server sent an unexpected reply")
)

// IsRetryable reports whether a call that failed with err may succeed if
// issued again on the same channel.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.CallOk
	case errors.Is(err, ErrTimeout):
		return metrics.CallTimeout
	case errors.Is(err, ErrSendFailed):
		return metrics.CallSendFailed
	case errors.Is(err, ErrInvalidRequest):
		return metrics.CallInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.CallCancelled
	default:
		return metrics.CallClosed
	}
}
