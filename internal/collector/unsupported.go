//go:build !linux

package collector

const (
	DefaultRoot = ""
	userHZ      = 100
)
