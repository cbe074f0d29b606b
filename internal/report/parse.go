package report

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEmpty is returned for a zero-length report.
	ErrEmpty = errors.New("report: empty")
	// ErrUnavailable is returned when the server could not read its process table.
	ErrUnavailable = errors.New("report: process table unavailable on server")
)

// Parse decodes text produced by Format back into entries. Times are
// recovered at the two-decimal precision of the wire format.
func Parse(text string) ([]Entry, error) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil, ErrEmpty
	}
	if strings.HasPrefix(text, Unavailable) {
		return nil, ErrUnavailable
	}

	lines := strings.Split(text, "\n")
	header := lines[0]
	if !strings.HasPrefix(header, "Top ") || !strings.HasSuffix(header, " CPU-consuming processes:") {
		return nil, fmt.Errorf("report: invalid header %q", header)
	}

	entries := make([]Entry, 0, len(lines)-1)
	for i, line := range lines[1:] {
		e, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("report: line %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseLine(line string) (Entry, error) {
	const (
		pidPrefix  = "PID: "
		nameSep    = ", Name: "
		userSep    = ", User Time: "
		systemPart = "System Time: "
		totalPart  = "Total Time: "
	)
	if !strings.HasPrefix(line, pidPrefix) {
		return Entry{}, fmt.Errorf("missing %q in %q", pidPrefix, line)
	}
	nameAt := strings.Index(line, nameSep)
	// names may contain ", " so the time section is located from the right
	userAt := strings.LastIndex(line, userSep)
	if nameAt < 0 || userAt < nameAt {
		return Entry{}, fmt.Errorf("malformed entry %q", line)
	}

	pid, err := strconv.Atoi(line[len(pidPrefix):nameAt])
	if err != nil {
		return Entry{}, fmt.Errorf("invalid pid: %w", err)
	}
	name := line[nameAt+len(nameSep) : userAt]

	parts := strings.Split(line[userAt+len(userSep):], ", ")
	if len(parts) != 3 || !strings.HasPrefix(parts[1], systemPart) || !strings.HasPrefix(parts[2], totalPart) {
		return Entry{}, fmt.Errorf("malformed times in %q", line)
	}
	user, err := parseSeconds(parts[0])
	if err != nil {
		return Entry{}, err
	}
	kernel, err := parseSeconds(strings.TrimPrefix(parts[1], systemPart))
	if err != nil {
		return Entry{}, err
	}
	if _, err := parseSeconds(strings.TrimPrefix(parts[2], totalPart)); err != nil {
		return Entry{}, err
	}

	return Entry{PID: pid, Name: name, UserTime: user, KernelTime: kernel}, nil
}

func parseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return time.Duration(math.Round(v*1000)) * time.Millisecond, nil
}
