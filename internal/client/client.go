// Package client talks to a topcpud server: one request per connection, with
// optional retries and a concurrent fan-out used as a load generator.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMessage is the trigger sent by the load generator. The server
// ignores its content.
const DefaultMessage = "Requesting CPU info from server"

// ErrRejected is returned when the server closed the connection without a
// report, which is how a full connection table presents to clients.
var ErrRejected = errors.New("server closed connection without a report")

// Request opens one connection to addr, sends msg once and returns the full reply.
func Request(ctx context.Context, addr, msg string) (string, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := io.WriteString(conn, msg); err != nil {
		if isReset(err) {
			return "", ErrRejected
		}
		return "", fmt.Errorf("send: %w", err)
	}

	reply, err := io.ReadAll(conn)
	if len(reply) == 0 && (err == nil || isReset(err)) {
		return "", ErrRejected
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return string(reply), fmt.Errorf("receive: %w", err)
	}
	return string(reply), nil
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// RequestWithRetry calls Request up to attempts times, backing off linearly
// by backoff between failures.
func RequestWithRetry(ctx context.Context, addr, msg string, attempts int, backoff time.Duration) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var reply string
		reply, err = Request(ctx, addr, msg)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", attempts, err)
}

// Result is the outcome of one fan-out client.
type Result struct {
	ID     int
	Report string
	Err    error
}

// FanoutOptions tunes Fanout.
type FanoutOptions struct {
	Message  string
	Attempts int
	Backoff  time.Duration
}

// Fanout runs n independent clients concurrently and calls fn as each one
// finishes. fn may be called from several goroutines at once. Individual
// client failures are reported through fn, not returned; the error is
// non-nil only when ctx is cancelled.
func Fanout(ctx context.Context, addr string, n int, opts FanoutOptions, fn func(Result)) error {
	if opts.Message == "" {
		opts.Message = DefaultMessage
	}
	var g errgroup.Group
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error {
			reply, err := RequestWithRetry(ctx, addr, opts.Message, opts.Attempts, opts.Backoff)
			fn(Result{ID: id, Report: reply, Err: err})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
