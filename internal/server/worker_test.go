package server

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/prabalesh/topcpu/internal/models"
	"github.com/prabalesh/topcpu/internal/report"
)

type staticLister struct {
	list models.ProcessList
	err  error
}

func (s staticLister) ListProcesses() (models.ProcessList, error) {
	return s.list, s.err
}

func sampleList() models.ProcessList {
	return models.ProcessList{
		Processes: []models.Process{
			{PID: 2, Name: "bash", UserTime: 200 * time.Millisecond, KernelTime: 100 * time.Millisecond},
			{PID: 1, Name: "init", UserTime: 1000 * time.Millisecond, KernelTime: 500 * time.Millisecond},
			{PID: 3, Name: "idle"},
		},
		Total: 3,
	}
}

const expectedReport = "Top 2 CPU-consuming processes:\n" +
	"PID: 1, Name: init, User Time: 1.00, System Time: 0.50, Total Time: 1.50\n" +
	"PID: 2, Name: bash, User Time: 0.20, System Time: 0.10, Total Time: 0.30\n"

func serveAsync(w *Worker, conn net.Conn) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Serve(conn) }()
	return done
}

func TestWorker_Serve(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)).Tracer("worker_test")
	w := NewWorker(staticLister{list: sampleList()}, WithWorkerTracer(tracer))

	serverSide, clientSide := net.Pipe()
	done := serveAsync(w, serverSide)

	_, err := clientSide.Write([]byte("Requesting CPU info from server"))
	require.NoError(t, err)
	got, err := io.ReadAll(clientSide)
	require.NoError(t, err)
	assert.Equal(t, expectedReport, string(got))
	assert.NoError(t, <-done)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "exchange", spans[0].Name)
}

func TestWorker_EmptyRead(t *testing.T) {
	w := NewWorker(staticLister{list: sampleList()})
	serverSide, clientSide := net.Pipe()
	done := serveAsync(w, serverSide)

	require.NoError(t, clientSide.Close())
	assert.ErrorIs(t, <-done, ErrEmptyRead)

	// the worker closed its end
	_, err := serverSide.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestWorker_ListerFailure(t *testing.T) {
	w := NewWorker(staticLister{err: errors.New("no procfs")})
	serverSide, clientSide := net.Pipe()
	done := serveAsync(w, serverSide)

	_, err := clientSide.Write([]byte("ping"))
	require.NoError(t, err)
	got, err := io.ReadAll(clientSide)
	require.NoError(t, err)
	assert.Equal(t, report.Unavailable, string(got))
	assert.NoError(t, <-done)
}

func TestWorker_WriteFailure(t *testing.T) {
	w := NewWorker(staticLister{list: sampleList()})
	serverSide, clientSide := net.Pipe()
	done := serveAsync(w, serverSide)

	_, err := clientSide.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, clientSide.Close())

	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestWorker_ReadTimeout(t *testing.T) {
	w := NewWorker(staticLister{list: sampleList()}, WithReadTimeout(20*time.Millisecond))
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	select {
	case err := <-serveAsync(w, serverSide):
		var netErr net.Error
		require.ErrorAs(t, err, &netErr)
		assert.True(t, netErr.Timeout())
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not time out")
	}
}

type shortWriter struct {
	chunk   int
	written []byte
}

func (s *shortWriter) Write(p []byte) (int, error) {
	n := min(s.chunk, len(p))
	s.written = append(s.written, p[:n]...)
	return n, nil
}

func TestWriteFull(t *testing.T) {
	w := &shortWriter{chunk: 3}
	require.NoError(t, writeFull(w, []byte(expectedReport)))
	assert.Equal(t, expectedReport, string(w.written))

	assert.ErrorIs(t, writeFull(&shortWriter{chunk: 0}, []byte("x")), io.ErrShortWrite)
}
