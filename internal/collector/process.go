package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prabalesh/topcpu/internal/models"
)

// ListProcesses scans every numeric directory under the procfs root. Processes
// that exit between the directory listing and the stat read are skipped.
func (p *ProcFS) ListProcesses() (models.ProcessList, error) {
	if p.root == "" {
		return models.ProcessList{}, ErrUnsupported
	}
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return models.ProcessList{}, fmt.Errorf("failed to open %s: %w", p.root, err)
	}

	var processes []models.Process
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Check if directory name is a PID (numeric)
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}

		proc, ok := p.getProcessInfo(pid)
		if ok {
			processes = append(processes, proc)
		}
	}

	return models.ProcessList{
		Processes: processes,
		Total:     len(processes),
	}, nil
}

func (p *ProcFS) getProcessInfo(pid int) (models.Process, bool) {
	statPath := filepath.Join(p.root, strconv.Itoa(pid), "stat")
	statContent, err := os.ReadFile(statPath)
	if err != nil {
		return models.Process{}, false
	}

	name, utime, stime, ok := parseStat(string(statContent))
	if !ok {
		return models.Process{}, false
	}

	return models.Process{
		PID:        pid,
		Name:       name,
		UserTime:   p.ticksToDuration(utime),
		KernelTime: p.ticksToDuration(stime),
	}, true
}

// parseStat extracts comm, utime and stime from a /proc/<pid>/stat line.
// comm sits between the first '(' and the last ')' and may itself contain
// spaces or parentheses.
func parseStat(line string) (name string, utime, stime uint64, ok bool) {
	line = strings.TrimSpace(line)
	l := strings.IndexByte(line, '(')
	r := strings.LastIndexByte(line, ')')
	if l < 0 || r < 0 || r <= l {
		return "", 0, 0, false
	}

	name = line[l+1 : r]
	fields := strings.Fields(line[r+1:])
	// fields[0] is field 3 (state); utime and stime are fields 14 and 15
	if len(fields) < 13 {
		return "", 0, 0, false
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	stime, err = strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	return name, utime, stime, true
}

// ticksToDuration converts clock ticks to whole milliseconds.
func (p *ProcFS) ticksToDuration(ticks uint64) time.Duration {
	ms := ticks * 1000 / uint64(p.hz)
	return time.Duration(ms) * time.Millisecond
}
