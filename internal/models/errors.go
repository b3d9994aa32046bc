package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned before any network call for unusable input.
	ErrValidation = errors.New("message text is empty")

	// ErrChannelUnavailable means the push connection used up its reconnect
	// attempts. Live delivery is off for the rest of the session.
	ErrChannelUnavailable = errors.New("live channel unavailable")
)

// RetrievalError wraps a failed history or conversation-list fetch.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// SendError means the persistence call failed and the message was not sent.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
