// Package health reports load and dependency health over HTTP.
package health

import (
	"time"

	"github.com/vietddude/biomes-client/internal/loading/progress"
)

// SystemStatus represents the overall health state of the client.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusStarting SystemStatus = "starting"
	StatusCritical SystemStatus = "critical"
)

// Serving reports whether the client is usable in this state.
func (s SystemStatus) Serving() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// HealthReport contains the full client health report.
type HealthReport struct {
	SystemStatus SystemStatus       `json:"system_status"`
	Phase        string             `json:"phase"`
	Progress     *progress.Progress `json:"progress,omitempty"`
	Degraded     bool               `json:"degraded"`
	LastError    string             `json:"last_error,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Dependencies map[string]string  `json:"dependencies,omitempty"`
}
