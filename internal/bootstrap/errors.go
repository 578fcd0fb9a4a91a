package bootstrap

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("archive document not found")
	ErrRateLimited   = errors.New("rate limited by archive")
	ErrNoSessionPath = errors.New("no session path configured or discoverable")
)

// TopicError reports a failed topic fetch.
type TopicError struct {
	Topic string
	Err   error
}

func (e *TopicError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Topic, e.Err)
}

func (e *TopicError) Unwrap() error {
	return e.Err
}
