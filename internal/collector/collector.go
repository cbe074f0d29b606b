package collector

import (
	"errors"

	"github.com/prabalesh/topcpu/internal/models"
)

// ErrUnsupported is returned on hosts without a procfs process table.
var ErrUnsupported = errors.New("collector: process table not available on this platform")

// ProcessLister returns a snapshot of every visible process and its
// accumulated CPU time. Implementations must be safe for concurrent use.
type ProcessLister interface {
	ListProcesses() (models.ProcessList, error)
}

// ProcFS reads the process table from a procfs mount.
type ProcFS struct {
	root string
	hz   int64
}

// NewProcFS returns a lister rooted at root; an empty root selects the
// platform default.
func NewProcFS(root string) *ProcFS {
	if root == "" {
		root = DefaultRoot
	}
	return &ProcFS{root: root, hz: userHZ}
}

// Root returns the procfs mount point being read.
func (p *ProcFS) Root() string {
	return p.root
}
