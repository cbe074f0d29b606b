package models

import "time"

// Process is one entry of a host process-table snapshot. CPU times are the
// accumulated user and kernel time since the process started.
type Process struct {
	PID        int           `json:"pid"`
	Name       string        `json:"name"`
	UserTime   time.Duration `json:"user_time"`
	KernelTime time.Duration `json:"kernel_time"`
}

// TotalTime returns user + kernel time.
func (p Process) TotalTime() time.Duration {
	return p.UserTime + p.KernelTime
}

type ProcessList struct {
	Processes []Process `json:"processes"`
	Total     int       `json:"total"`
}
