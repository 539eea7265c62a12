// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthCheckProvider aggregates named health checkers.
type HealthCheckProvider struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthCheckProvider creates a provider; each check is bounded by timeout (default 2s).
func NewHealthCheckProvider(timeout time.Duration) *HealthCheckProvider {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthCheckProvider{
		checkers: make(map[string]HealthChecker),
		timeout:  timeout,
	}
}

// RegisterChecker registers a health checker for a component.
func (p *HealthCheckProvider) RegisterChecker(name string, checker HealthChecker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkers[name] = checker
}

// Check checks the health of a specific component.
func (p *HealthCheckProvider) Check(ctx context.Context, name string) (HealthResult, error) {
	p.mu.RLock()
	checker, exists := p.checkers[name]
	p.mu.RUnlock()

	if !exists {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	return p.run(ctx, name, checker), nil
}

// CheckAll checks every registered component, sorted by name.
// Overall status is the worst individual status.
func (p *HealthCheckProvider) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	p.mu.RLock()
	names := make([]string, 0, len(p.checkers))
	checkers := make(map[string]HealthChecker, len(p.checkers))
	for name, checker := range p.checkers {
		names = append(names, name)
		checkers[name] = checker
	}
	p.mu.RUnlock()
	sort.Strings(names)

	results := make([]HealthResult, 0, len(names))
	overall := HealthHealthy
	for _, name := range names {
		result := p.run(ctx, name, checkers[name])
		results = append(results, result)
		switch result.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}

func (p *HealthCheckProvider) run(ctx context.Context, name string, checker HealthChecker) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result := checker.Check(ctx)
	result.Component = name
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}

// FunctionHealthChecker wraps a function as a health checker.
type FunctionHealthChecker func(ctx context.Context) HealthResult

// Check calls the underlying function.
func (f FunctionHealthChecker) Check(ctx context.Context) HealthResult {
	return f(ctx)
}

// PingChecker reports unhealthy when ping returns an error.
func PingChecker(ping func(ctx context.Context) error) HealthChecker {
	return FunctionHealthChecker(func(ctx context.Context) HealthResult {
		if err := ping(ctx); err != nil {
			return HealthResult{Status: HealthUnhealthy, Message: err.Error()}
		}
		return HealthResult{Status: HealthHealthy}
	})
}
