package server

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is logged when a connection arrives while every
	// slot of the table is occupied. The connection is closed without data.
	ErrCapacityExceeded = errors.New("connection table full")
	// ErrEmptyRead marks a peer that closed before sending anything.
	ErrEmptyRead = errors.New("peer closed before sending")
	// ErrServerStarted is returned by Listen when called twice.
	ErrServerStarted = errors.New("server already listening")
)

// BindError reports that the listen address could not be bound.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ListenError reports that the accept backlog could not be established.
type ListenError struct {
	Address string
	Err     error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen %s: %v", e.Address, e.Err)
}

func (e *ListenError) Unwrap() error { return e.Err }

// WaitError reports an unrecoverable readiness-wait failure.
type WaitError struct {
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("readiness wait: %v", e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// AcceptError wraps a failed accept. It is logged and never stops the loop.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("accept: %v", e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }
