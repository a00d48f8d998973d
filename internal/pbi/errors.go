package pbi

import "fmt"

// AuthError reports a failed password-grant exchange. The whole job run is
// aborted and retried on the next tick.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pbi auth: %v", e.Err)
	}
	return fmt.Sprintf("pbi auth: status %d: %s", e.Status, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a failed query. Status is 0 for transport failures
// and timeouts; Body carries the upstream payload for diagnostics.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pbi query: %v", e.Err)
	}
	return fmt.Sprintf("pbi query: status %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// DataError reports a malformed value in an otherwise successful result.
// Callers skip the affected row and continue.
type DataError struct {
	Column string
	Value  any
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("pbi data: column %q value %v: %s", e.Column, e.Value, e.Reason)
}
