package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prabalesh/topcpu/internal/collector"
	"github.com/prabalesh/topcpu/internal/config"
	"github.com/prabalesh/topcpu/internal/server"
	"github.com/prabalesh/topcpu/internal/tracing"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens.
func run() int {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file")
		address     = flag.String("addr", "", "address to bind (default all interfaces)")
		port        = flag.Int("port", server.DefaultPort, "port to listen on")
		capacity    = flag.Int("capacity", server.DefaultCapacity, "maximum pending connections")
		readTimeout = flag.Duration("read-timeout", 0, "per-connection read timeout (0 waits forever)")
		procRoot    = flag.String("proc", "", "procfs mount point (default /proc)")
		cacheTTL    = flag.Duration("cache-ttl", 0, "reuse a process snapshot for this long (0 disables)")
		traceOn     = flag.Bool("trace", false, "export a span per exchange")
		traceOutput = flag.String("trace-output", "", "span output file (default stdout)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[topcpud] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("config: %v", err)
		return 1
	}
	// explicit flags override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Address = *address
		case "port":
			cfg.Server.Port = *port
		case "capacity":
			cfg.Server.Capacity = *capacity
		case "read-timeout":
			cfg.Server.ReadTimeout = *readTimeout
		case "proc":
			cfg.Collector.Root = *procRoot
		case "cache-ttl":
			cfg.Collector.CacheTTL = *cacheTTL
		case "trace":
			cfg.Tracing.Enabled = *traceOn
		case "trace-output":
			cfg.Tracing.Output = *traceOutput
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Printf("config: %v", err)
		return 1
	}

	if cfg.Tracing.Enabled {
		if err := tracing.Init("topcpud", version, cfg.Tracing.Output); err != nil {
			logger.Printf("tracing: %v", err)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx); err != nil {
				logger.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	procfs := collector.NewProcFS(cfg.Collector.Root)
	lister := collector.NewCache(procfs, cfg.Collector.CacheTTL)
	logger.Printf("reading processes from %s (cache ttl %v)", procfs.Root(), cfg.Collector.CacheTTL)
	srv, err := server.New(cfg.ServerSettings(), lister,
		server.WithLogger(logger),
		server.WithTracer(tracing.Tracer("github.com/prabalesh/topcpu/internal/server")),
	)
	if err != nil {
		logger.Printf("config: %v", err)
		return 1
	}

	// the loop has no drain phase; an interrupt closes the listener and exits
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP drops the cached snapshot so the next request rescans
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				lister.Clear()
				logger.Printf("process snapshot cache cleared")
			}
		}
	}()

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Printf("%v", err)
		return 1
	}
	return 0
}
