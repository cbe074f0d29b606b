package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/prabalesh/topcpu/internal/client"
	"github.com/prabalesh/topcpu/internal/ui"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8005", "server address")
		message  = flag.String("message", client.DefaultMessage, "request message")
		attempts = flag.Int("retries", 3, "attempts per client when the server rejects a connection")
		backoff  = flag.Duration("backoff", 100*time.Millisecond, "delay growth between attempts")
		watch    = flag.Bool("watch", false, "open a dashboard polling the server instead of a one-shot fan-out")
		interval = flag.Duration("interval", 2*time.Second, "dashboard refresh interval")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <number_of_clients>\n       %s -watch [flags]\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *watch {
		os.Exit(runWatch(*addr, *message, *interval))
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	n, err := strconv.Atoi(flag.Arg(0))
	if err != nil || n < 1 {
		fmt.Fprintf(os.Stderr, "invalid number of clients %q\n", flag.Arg(0))
		os.Exit(1)
	}

	os.Exit(runFanout(ctx, *addr, n, client.FanoutOptions{
		Message:  *message,
		Attempts: *attempts,
		Backoff:  *backoff,
	}))
}

func runFanout(ctx context.Context, addr string, n int, opts client.FanoutOptions) int {
	var (
		mu       sync.Mutex
		received int
	)
	err := client.Fanout(ctx, addr, n, opts, func(r client.Result) {
		mu.Lock()
		defer mu.Unlock()
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.ErrorStyle.Render(fmt.Sprintf("Client %d:", r.ID)), r.Err)
			return
		}
		received++
		fmt.Printf("%s\n%s\n", ui.LabelStyle.Render(fmt.Sprintf("Client %d: Message received:", r.ID)), r.Report)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(ui.ValueStyle.Render(fmt.Sprintf("%d/%d clients received a report", received, n)))
	return 0
}

func runWatch(addr, message string, interval time.Duration) int {
	app := ui.NewApp(addr, interval, func(ctx context.Context) (string, error) {
		return client.Request(ctx, addr, message)
	})
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		return 1
	}
	return 0
}
