package domain

import "fmt"

// FetchError reports that a hazard feed could not be read: the endpoint was
// unreachable, timed out, returned a non-200 status, or sent a payload that
// could not be decoded. It fails the whole processing cycle.
type FetchError struct {
	Feed string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s feed: %v", e.Feed, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
