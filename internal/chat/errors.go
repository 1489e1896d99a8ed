package chat

import (
	"errors"
	"fmt"
)

var (
	ErrIdentityMissing   = errors.New("identity missing")
	ErrNotJoined         = errors.New("connection has not joined a room")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrHubStopped        = errors.New("hub is not running")
)

// StorageError reports a failed Message Store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
