package health

import (
	"context"
	"sync"
	"time"
)

// Manager runs health checks in parallel, each under its own timeout.
type Manager struct {
	checkers []Checker
	timeout  time.Duration
}

// NewManager creates a new health check manager with default 5-second timeout.
func NewManager() *Manager {
	return &Manager{timeout: 5 * time.Second}
}

// WithTimeout sets a custom timeout for each check.
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	m.timeout = timeout
	return m
}

// AddChecker registers a checker. Results keep registration order.
func (m *Manager) AddChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// NamedResult pairs a result with the checker that produced it.
type NamedResult struct {
	Name string `json:"name" yaml:"name"`
	*Result
}

// Check runs all registered checks and returns their results in
// registration order.
func (m *Manager) Check(ctx context.Context) []NamedResult {
	results := make([]NamedResult, len(m.checkers))

	var wg sync.WaitGroup
	for i, c := range m.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			start := time.Now()
			result := c.Check(checkCtx)
			if result.Latency == 0 {
				result.Latency = time.Since(start)
			}
			results[i] = NamedResult{Name: c.Name(), Result: result}
		}()
	}

	wg.Wait()
	return results
}

// OverallStatus is the worst status among results.
func OverallStatus(results []NamedResult) Status {
	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}
