//go:build linux

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabalesh/topcpu/internal/client"
	"github.com/prabalesh/topcpu/internal/report"
)

func startServer(t *testing.T, capacity int) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.Capacity = capacity
	srv, err := New(cfg, staticLister{list: sampleList()})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return conn
}

func TestServer_RoundTrip(t *testing.T) {
	srv := startServer(t, DefaultCapacity)
	conn := dial(t, srv)

	_, err := io.WriteString(conn, client.DefaultMessage)
	require.NoError(t, err)
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, expectedReport, string(got))

	entries, err := report.Parse(string(got))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), report.TopK)
}

func TestServer_Capacity(t *testing.T) {
	for _, capacity := range []int{1, 3, 8} {
		srv := startServer(t, capacity)

		held := make([]net.Conn, capacity)
		for i := range held {
			held[i] = dial(t, srv)
		}
		require.Eventually(t, func() bool {
			return srv.Stats().Occupied == int64(capacity)
		}, 5*time.Second, 5*time.Millisecond, "capacity %d", capacity)
		assert.Zero(t, srv.Stats().Rejected)

		// one more connection while the table is full is closed without data
		extra := dial(t, srv)
		buf := make([]byte, 64)
		n, err := extra.Read(buf)
		assert.Zero(t, n)
		assert.ErrorIs(t, err, io.EOF)
		require.Eventually(t, func() bool {
			return srv.Stats().Rejected == 1
		}, 5*time.Second, 5*time.Millisecond)

		// serving a held connection frees its slot
		_, err = io.WriteString(held[0], client.DefaultMessage)
		require.NoError(t, err)
		got, err := io.ReadAll(held[0])
		require.NoError(t, err)
		assert.Equal(t, expectedReport, string(got))
		assert.Equal(t, int64(capacity-1), srv.Stats().Occupied)
	}
}

func TestServer_EmptyRequest(t *testing.T) {
	srv := startServer(t, 2)

	silent := dial(t, srv)
	require.NoError(t, silent.(*net.TCPConn).CloseWrite())

	busy := dial(t, srv)
	_, err := io.WriteString(busy, client.DefaultMessage)
	require.NoError(t, err)

	got, err := io.ReadAll(silent)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = io.ReadAll(busy)
	require.NoError(t, err)
	assert.Equal(t, expectedReport, string(got))
}

func TestServer_ConcurrentClients(t *testing.T) {
	srv := startServer(t, DefaultCapacity)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		results []client.Result
	)
	err := client.Fanout(ctx, srv.Addr().String(), 50, client.FanoutOptions{
		Attempts: 20,
		Backoff:  10 * time.Millisecond,
	}, func(r client.Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	})
	require.NoError(t, err)
	require.Len(t, results, 50)
	for _, r := range results {
		if assert.NoError(t, r.Err, "client %d", r.ID) {
			assert.Equal(t, expectedReport, r.Report, "client %d", r.ID)
		}
	}

	// the loop is still alive after the burst
	conn := dial(t, srv)
	_, err = io.WriteString(conn, "again")
	require.NoError(t, err)
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(got), "Top 2 CPU-consuming processes:"))
}

func TestServer_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	srv, err := New(cfg, staticLister{})
	require.NoError(t, err)

	err = srv.Listen()
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr), "got %v", err)
	assert.Nil(t, srv.Addr())
}

func TestServer_ListenTwice(t *testing.T) {
	srv := startServer(t, 1)
	assert.ErrorIs(t, srv.Listen(), ErrServerStarted)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 0
	_, err := New(cfg, staticLister{})
	assert.Error(t, err)
}
