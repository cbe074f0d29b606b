package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prabalesh/topcpu/internal/collector"
	"github.com/prabalesh/topcpu/internal/report"
)

// Worker serves exactly one request/response exchange per connection:
// Accepted -> Reading -> (EmptyClose | Responding) -> Closed.
type Worker struct {
	lister      collector.ProcessLister
	logger      *log.Logger
	tracer      trace.Tracer
	bufferSize  int
	readTimeout time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(w *Worker)

func WithWorkerLogger(logger *log.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithWorkerTracer(tracer trace.Tracer) WorkerOption {
	return func(w *Worker) { w.tracer = tracer }
}

// WithBufferSize sets the size of the single read.
func WithBufferSize(size int) WorkerOption {
	return func(w *Worker) {
		if size > 0 {
			w.bufferSize = size
		}
	}
}

// WithReadTimeout bounds how long the worker waits for the request.
func WithReadTimeout(timeout time.Duration) WorkerOption {
	return func(w *Worker) { w.readTimeout = timeout }
}

func NewWorker(lister collector.ProcessLister, opts ...WorkerOption) *Worker {
	w := &Worker{
		lister:     lister,
		logger:     log.New(io.Discard, "", 0),
		bufferSize: DefaultReadBufferSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer("github.com/prabalesh/topcpu/internal/server")
	}
	return w
}

// Serve performs the exchange on conn and always closes it. The returned
// error is informational; failures have already been logged.
func (w *Worker) Serve(conn net.Conn) (err error) {
	id := uuid.New().String()
	_, span := w.tracer.Start(context.Background(), "exchange",
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("peer.address", conn.RemoteAddr().String()),
		))
	defer func() {
		if err != nil && !errors.Is(err, ErrEmptyRead) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer conn.Close()

	if w.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			w.logger.Printf("exchange %s: set read deadline: %v", id, err)
		}
	}

	buf := make([]byte, w.bufferSize)
	n, err := conn.Read(buf)
	span.SetAttributes(attribute.Int("request.bytes", n))
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return ErrEmptyRead
		}
		w.logger.Printf("exchange %s: read: %v", id, err)
		return fmt.Errorf("read: %w", err)
	}
	w.logger.Printf("exchange %s: message received: %s", id, buf[:n])

	payload := w.render(id)
	if err := writeFull(conn, []byte(payload)); err != nil {
		w.logger.Printf("exchange %s: write failed: %v", id, err)
		return fmt.Errorf("write: %w", err)
	}
	span.SetAttributes(attribute.Int("response.bytes", len(payload)))
	w.logger.Printf("exchange %s: top CPU-consuming processes sent", id)
	return nil
}

func (w *Worker) render(id string) string {
	list, err := w.lister.ListProcesses()
	if err != nil {
		w.logger.Printf("exchange %s: list processes: %v", id, err)
		return report.Unavailable
	}
	return report.Top(list)
}

// writeFull keeps writing until buf is sent or the connection fails.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
