// Package report ranks process snapshots by CPU time and renders the textual
// top-K report sent back to clients.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prabalesh/topcpu/internal/models"
)

const (
	// TopK is the number of processes listed in every report.
	TopK = 2
	// MaxNameLen bounds the process name carried by an Entry.
	MaxNameLen = 255
	// MaxReportSize bounds the rendered report in bytes.
	MaxReportSize = 2048

	// Unavailable is sent when the process table cannot be read.
	Unavailable = "Failed to open /proc directory"
)

// Entry is one ranked line of a report.
type Entry struct {
	PID        int
	Name       string
	UserTime   time.Duration
	KernelTime time.Duration
}

// NewEntry builds an Entry from a process snapshot record.
func NewEntry(p models.Process) Entry {
	return Entry{
		PID:        p.PID,
		Name:       truncateName(p.Name),
		UserTime:   p.UserTime,
		KernelTime: p.KernelTime,
	}
}

// Total returns user + kernel time.
func (e Entry) Total() time.Duration {
	return e.UserTime + e.KernelTime
}

// Rank orders processes by total CPU time, highest first. Ties keep their
// enumeration order.
func Rank(list models.ProcessList) []Entry {
	entries := make([]Entry, len(list.Processes))
	for i, p := range list.Processes {
		entries[i] = NewEntry(p)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Total() > entries[j].Total()
	})
	return entries
}

// Top ranks list and renders the first TopK entries.
func Top(list models.ProcessList) string {
	return Format(Rank(list), TopK)
}

// Format renders the header and the first min(k, len(entries)) entries. The
// result never exceeds MaxReportSize bytes.
func Format(entries []Entry, k int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Top %d CPU-consuming processes:\n", k)
	for i := 0; i < k && i < len(entries); i++ {
		e := entries[i]
		// total is summed after rounding so every line adds up exactly
		user, kernel := centiseconds(e.UserTime), centiseconds(e.KernelTime)
		fmt.Fprintf(&b, "PID: %d, Name: %s, User Time: %s, System Time: %s, Total Time: %s\n",
			e.PID, e.Name, seconds(user), seconds(kernel), seconds(user+kernel))
	}
	out := b.String()
	if len(out) > MaxReportSize {
		out = out[:MaxReportSize]
	}
	return out
}

// centiseconds rounds d half up to hundredths of a second.
func centiseconds(d time.Duration) int64 {
	if d < 0 {
		d = 0
	}
	return int64((d + 5*time.Millisecond) / (10 * time.Millisecond))
}

func seconds(cs int64) string {
	return fmt.Sprintf("%d.%02d", cs/100, cs%100)
}

// truncateName cuts name to MaxNameLen bytes without splitting a rune.
func truncateName(name string) string {
	if len(name) <= MaxNameLen {
		return name
	}
	cut := MaxNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
