// SPDX-License-Identifier: Apache-2.0
// Package core holds the agent contract, per-turn data model and health checks.
package core

import (
	"context"
	"strings"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the component answers but some of its work fails.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	Component string       `json:"component"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	// Check returns the current health status of the component.
	// The context can be used to implement timeouts.
	Check(ctx context.Context) HealthResult
}

// AgentHealth derives a health result from registry status snapshots:
// degraded when any agent's last run failed, healthy otherwise.
func AgentHealth(statuses []AgentStatus) HealthResult {
	var failing []string
	for _, s := range statuses {
		if s.LastStatus == StatusError {
			failing = append(failing, s.Name)
		}
	}
	res := HealthResult{Status: HealthHealthy, LastCheck: time.Now()}
	if len(failing) > 0 {
		res.Status = HealthDegraded
		res.Message = "last run failed: " + strings.Join(failing, ", ")
	}
	return res
}
