// Package blob holds the pieces shared by the model stores: operation
// counters, key validation and optional gzip encoding.
package blob

import (
	"sync"
	"time"

	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// Counters tracks reads, writes, deletes, errors and transferred bytes
type Counters struct {
	mu           sync.RWMutex
	readOps      int64
	writeOps     int64
	deleteOps    int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
}

// New starts a fresh set of counters
func New() *Counters {
	return &Counters{startTime: time.Now()}
}

func (c *Counters) Read(bytes int) {
	c.mu.Lock()
	c.readOps++
	c.bytesRead += int64(bytes)
	c.mu.Unlock()
}

func (c *Counters) Write(bytes int) {
	c.mu.Lock()
	c.writeOps++
	c.bytesWritten += int64(bytes)
	c.mu.Unlock()
}

func (c *Counters) Delete() {
	c.mu.Lock()
	c.deleteOps++
	c.mu.Unlock()
}

func (c *Counters) Failure() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// Snapshot returns the current values
func (c *Counters) Snapshot() *interfaces.StorageMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &interfaces.StorageMetrics{
		ReadOperations:   c.readOps,
		WriteOperations:  c.writeOps,
		DeleteOperations: c.deleteOps,
		ErrorCount:       c.errorCount,
		BytesRead:        c.bytesRead,
		BytesWritten:     c.bytesWritten,
		Uptime:           time.Since(c.startTime),
	}
}
