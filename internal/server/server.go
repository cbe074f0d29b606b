// Package server implements the CPU report service: a single accept loop that
// multiplexes the listening socket and a fixed-size table of pending
// connections over epoll, and fire-and-forget workers that serve one
// request/response exchange each.
//
// A slot is cleared as soon as its connection is handed to a worker, so the
// table capacity bounds connections waiting for their first byte, not the
// number of exchanges in flight.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/prabalesh/topcpu/internal/collector"
)

// Defaults mirror the values the service has always shipped with.
const (
	DefaultPort           = 8005
	DefaultCapacity       = 8
	DefaultReadBufferSize = 1024
)

// Config holds the listener and worker settings.
type Config struct {
	Address        string
	Port           int
	Capacity       int
	ReadBufferSize int
	// ReadTimeout bounds the worker's single read. Zero waits forever.
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config bound to every interface on DefaultPort.
func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		Capacity:       DefaultCapacity,
		ReadBufferSize: DefaultReadBufferSize,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be > 0")
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be > 0")
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("read timeout must be >= 0")
	}
	return nil
}

// Stats is a point-in-time view of the loop counters.
type Stats struct {
	Occupied   int64
	Accepted   int64
	Rejected   int64
	Dispatched int64
}

type Server struct {
	config Config
	logger *log.Logger
	tracer trace.Tracer
	worker *Worker

	listener net.Listener
	poller   poller
	table    *table

	occupied   atomic.Int64
	accepted   atomic.Int64
	rejected   atomic.Int64
	dispatched atomic.Int64
}

// Option configures a Server.
type Option func(s *Server)

// WithLogger sets the logger used by the loop and its workers.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTracer sets the tracer used for per-exchange spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// New creates a server answering with snapshots from lister.
func New(config Config, lister collector.ProcessLister, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		config: config,
		logger: log.New(io.Discard, "", 0),
		table:  newTable(config.Capacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/prabalesh/topcpu/internal/server")
	}
	s.worker = NewWorker(lister,
		WithWorkerLogger(s.logger),
		WithWorkerTracer(s.tracer),
		WithBufferSize(config.ReadBufferSize),
		WithReadTimeout(config.ReadTimeout),
	)
	return s, nil
}

// Listen binds the listening socket and prepares the poller.
func (s *Server) Listen() error {
	if s.listener != nil {
		return ErrServerStarted
	}
	address := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))
	ln, err := listenTCP(address, s.config.Capacity)
	if err != nil {
		return err
	}
	fd, err := rawFD(ln.(syscall.Conn))
	if err != nil {
		ln.Close()
		return &ListenError{Address: address, Err: err}
	}
	p, err := newPoller(s.config.Capacity)
	if err != nil {
		ln.Close()
		return &ListenError{Address: address, Err: err}
	}
	if err := p.Add(fd, listenerToken); err != nil {
		p.Close()
		ln.Close()
		return &ListenError{Address: address, Err: err}
	}
	s.listener, s.poller = ln, p
	s.logger.Printf("Server is listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns the current loop counters. It is safe to call from any goroutine.
func (s *Server) Stats() Stats {
	return Stats{
		Occupied:   s.occupied.Load(),
		Accepted:   s.accepted.Load(),
		Rejected:   s.rejected.Load(),
		Dispatched: s.dispatched.Load(),
	}
}

// ListenAndServe binds then runs the accept loop until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop. It returns nil once ctx is cancelled, closing
// the listener and any connection still waiting in the table; exchanges
// already handed to workers are left to finish on their own. Any other
// return is a *WaitError.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.close()
	stop := context.AfterFunc(ctx, func() {
		if err := s.poller.Wake(); err != nil {
			s.logger.Printf("wake failed: %v", err)
		}
	})
	defer stop()

	tokens := make([]int, 0, s.config.Capacity+2)
	for {
		var err error
		tokens, err = s.poller.Wait(tokens[:0])
		if err != nil {
			return &WaitError{Err: err}
		}

		var ready []int
		listenerReady := false
		for _, token := range tokens {
			switch token {
			case wakeToken:
				if ctx.Err() != nil {
					return nil
				}
			case listenerToken:
				listenerReady = true
			default:
				ready = append(ready, token)
			}
		}

		if listenerReady {
			if err := s.acceptOne(); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				s.logger.Print(err)
			}
		}
		for _, i := range ready {
			s.dispatch(i)
		}
	}
}

// acceptOne accepts a single pending connection into a free slot, or closes
// it when the table is full.
func (s *Server) acceptOne() error {
	conn, err := s.listener.Accept()
	if err != nil {
		return &AcceptError{Err: err}
	}
	s.accepted.Add(1)

	fd, err := rawFD(conn.(syscall.Conn))
	if err != nil {
		conn.Close()
		return &AcceptError{Err: err}
	}
	i := s.table.insert(conn, fd)
	if i < 0 {
		s.rejected.Add(1)
		conn.Close()
		s.logger.Printf("Max clients reached. Connection from %s rejected: %v", conn.RemoteAddr(), ErrCapacityExceeded)
		return nil
	}
	if err := s.poller.Add(fd, i); err != nil {
		s.table.take(i)
		conn.Close()
		return &AcceptError{Err: err}
	}
	s.occupied.Store(int64(s.table.occupied))
	s.logger.Printf("New connection from %s in slot %d", conn.RemoteAddr(), i)
	return nil
}

// dispatch hands the connection in slot i to a new worker goroutine and
// frees the slot immediately.
func (s *Server) dispatch(i int) {
	conn, fd, ok := s.table.take(i)
	if !ok {
		return
	}
	s.occupied.Store(int64(s.table.occupied))
	if err := s.poller.Remove(fd); err != nil {
		s.logger.Printf("slot %d: %v", i, err)
	}
	s.dispatched.Add(1)
	go s.worker.Serve(conn)
}

func (s *Server) close() {
	for _, conn := range s.table.drain() {
		conn.Close()
	}
	s.occupied.Store(0)
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Printf("close listener: %v", err)
	}
	if err := s.poller.Close(); err != nil {
		s.logger.Printf("close poller: %v", err)
	}
}

// rawFD returns the descriptor behind conn without taking ownership of it.
func rawFD(conn syscall.Conn) (int, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}
