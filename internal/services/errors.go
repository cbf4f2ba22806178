package services

import (
	"fmt"
)

// NetworkError reports a completion request that never reached the upstream, such as a refused
// connection, a DNS failure or a timeout.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a non-2xx response from the upstream. Status is the full status line as
// returned by net/http, for example "502 Bad Gateway".
type UpstreamError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API Error: %s - %s", e.Status, e.Body)
}

// MalformedResponseError reports a successful response whose body could not be decoded or did not
// carry a completion.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
