package collector

import (
	"sync"
	"time"

	"github.com/prabalesh/topcpu/internal/models"
)

// Cache serves the previous snapshot of an underlying lister while it is
// younger than ttl. A zero ttl disables caching.
type Cache struct {
	lister ProcessLister
	ttl    time.Duration
	now    func() time.Time

	snapshot     models.ProcessList
	snapshotTime time.Time
	valid        bool

	mutex sync.RWMutex
}

// NewCache wraps lister with a snapshot cache.
func NewCache(lister ProcessLister, ttl time.Duration) *Cache {
	return &Cache{
		lister: lister,
		ttl:    ttl,
		now:    time.Now,
	}
}

// checking if valid
func (c *Cache) IsValid() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.isValid()
}

func (c *Cache) isValid() bool {
	return c.valid && c.ttl > 0 && c.now().Sub(c.snapshotTime) < c.ttl
}

func (c *Cache) ListProcesses() (models.ProcessList, error) {
	if c.ttl <= 0 {
		return c.lister.ListProcesses()
	}

	c.mutex.RLock()
	if c.isValid() {
		list := c.copySnapshot()
		c.mutex.RUnlock()
		return list, nil
	}
	c.mutex.RUnlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	// another worker may have refreshed while we waited for the write lock
	if c.isValid() {
		return c.copySnapshot(), nil
	}
	list, err := c.lister.ListProcesses()
	if err != nil {
		return models.ProcessList{}, err
	}
	c.snapshot = list
	c.snapshotTime = c.now()
	c.valid = true
	return c.copySnapshot(), nil
}

// Return a copy to avoid race conditions
func (c *Cache) copySnapshot() models.ProcessList {
	procs := make([]models.Process, len(c.snapshot.Processes))
	copy(procs, c.snapshot.Processes)
	return models.ProcessList{Processes: procs, Total: c.snapshot.Total}
}

func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.snapshot = models.ProcessList{}
	c.valid = false
}
