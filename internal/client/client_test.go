package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reply = "Top 2 CPU-consuming processes:\n"

// fakeServer closes the first reject connections without reading and answers
// every later one with reply.
func fakeServer(t *testing.T, reject int32) (string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var seen atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := seen.Add(1)
			go func() {
				defer conn.Close()
				if n <= reject {
					return
				}
				buf := make([]byte, 1024)
				if k, _ := conn.Read(buf); k == 0 {
					return
				}
				_, _ = conn.Write([]byte(reply))
			}()
		}
	}()
	return ln.Addr().String(), &seen
}

func TestRequest(t *testing.T) {
	addr, _ := fakeServer(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := Request(ctx, addr, DefaultMessage)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestRequest_Rejected(t *testing.T) {
	addr, _ := fakeServer(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Request(ctx, addr, DefaultMessage)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRequest_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Request(context.Background(), addr, DefaultMessage)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestRequestWithRetry(t *testing.T) {
	addr, seen := fakeServer(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := RequestWithRetry(ctx, addr, DefaultMessage, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
	assert.Equal(t, int32(3), seen.Load())
}

func TestRequestWithRetry_Exhausted(t *testing.T) {
	addr, _ := fakeServer(t, 100)
	_, err := RequestWithRetry(context.Background(), addr, DefaultMessage, 3, time.Millisecond)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestFanout(t *testing.T) {
	addr, _ := fakeServer(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		results = map[int]Result{}
	)
	err := Fanout(ctx, addr, 20, FanoutOptions{Attempts: 3, Backoff: time.Millisecond}, func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results[r.ID] = r
	})
	require.NoError(t, err)
	require.Len(t, results, 20)
	for id, r := range results {
		assert.NoError(t, r.Err, "client %d", id)
		assert.Equal(t, reply, r.Report, "client %d", id)
	}
}

func TestFanout_Cancelled(t *testing.T) {
	addr, _ := fakeServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Fanout(ctx, addr, 3, FanoutOptions{}, func(Result) {})
	assert.ErrorIs(t, err, context.Canceled)
}
