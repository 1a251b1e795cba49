package llm

import (
	"context"
	"fmt"
	"net"

	"github.com/volary-ai/analyzer-agent/errors"
)

// ConnectionError means the endpoint could not be reached, the call timed
// out or it was cancelled.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "connection to completion API failed: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// APIRequestError is a non-2xx reply from the endpoint.
type APIRequestError struct {
	StatusCode int
	Body       string
}

func (e *APIRequestError) Error() string {
	return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Body)
}

// ResponseParseError means the endpoint answered 2xx with a body that could
// not be used.
type ResponseParseError struct {
	Msg string
	Err error
}

func (e *ResponseParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid completion response: %s: %v", e.Msg, e.Err)
	}
	return "invalid completion response: " + e.Msg
}

func (e *ResponseParseError) Unwrap() error { return e.Err }

// isConnectionFailure reports whether err came from the network or the
// context rather than from the server.
func isConnectionFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
