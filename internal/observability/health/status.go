// Package health runs dependency checks for the API server
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc probes one dependency; a nil error means healthy
type CheckFunc func(ctx context.Context) error

// HealthResult represents the result of a health check
type HealthResult struct {
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Critical bool          `json:"critical"`
	Duration time.Duration `json:"duration"`
}

// SystemStatus represents overall system health
type SystemStatus struct {
	OverallStatus HealthStatus            `json:"status"`
	Version       string                  `json:"version,omitempty"`
	CheckResults  map[string]HealthResult `json:"checks"`
	CheckedAt     time.Time               `json:"checked_at"`
	Uptime        string                  `json:"uptime"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// HealthMonitor runs the registered checks on demand
type HealthMonitor struct {
	logger  *logrus.Logger
	timeout time.Duration
	version string
	started time.Time

	mu     sync.RWMutex
	checks map[string]registeredCheck
}

// NewHealthMonitor creates a monitor whose checks each get timeout to finish
func NewHealthMonitor(version string, timeout time.Duration, logger *logrus.Logger) *HealthMonitor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		logger:  logger,
		timeout: timeout,
		version: version,
		started: time.Now(),
		checks:  make(map[string]registeredCheck),
	}
}

// RegisterCheck adds or replaces a named check. A failing critical check
// makes the system unhealthy; any other failure only degrades it.
func (hm *HealthMonitor) RegisterCheck(name string, fn CheckFunc, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checks[name] = registeredCheck{fn: fn, critical: critical}
	hm.logger.WithField("check", name).Debug("Registered health check")
}

// Checks returns the registered check names, sorted
func (hm *HealthMonitor) Checks() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check concurrently
func (hm *HealthMonitor) Check(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make(map[string]registeredCheck, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]HealthResult, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()
			result := hm.execute(ctx, check)
			resMu.Lock()
			results[name] = result
			resMu.Unlock()
			if result.Status != StatusHealthy {
				hm.logger.WithFields(logrus.Fields{
					"check":   name,
					"message": result.Message,
				}).Warn("Health check failed")
			}
		}(name, check)
	}
	wg.Wait()

	return &SystemStatus{
		OverallStatus: overall(results),
		Version:       hm.version,
		CheckResults:  results,
		CheckedAt:     time.Now().UTC(),
		Uptime:        time.Since(hm.started).Round(time.Second).String(),
	}
}

func (hm *HealthMonitor) execute(ctx context.Context, check registeredCheck) (result HealthResult) {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	start := time.Now()
	result.Critical = check.critical
	defer func() {
		if v := recover(); v != nil {
			result.Status = StatusUnhealthy
			result.Message = fmt.Sprintf("check panicked: %v", v)
		}
		result.Duration = time.Since(start)
	}()

	if err := check.fn(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		return result
	}
	result.Status = StatusHealthy
	return result
}

func overall(results map[string]HealthResult) HealthStatus {
	status := StatusHealthy
	for _, r := range results {
		if r.Status == StatusHealthy {
			continue
		}
		if r.Critical {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}
