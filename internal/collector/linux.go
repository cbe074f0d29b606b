//go:build linux

package collector

const (
	DefaultRoot = "/proc"

	// utime/stime in /proc/<pid>/stat are expressed in USER_HZ, which the
	// kernel ABI fixes at 100 regardless of CONFIG_HZ.
	userHZ = 100
)
