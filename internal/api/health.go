package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemStatus represents the overall health state of the service or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the result of one dependency check.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full health report.
type HealthReport struct {
	Status     SystemStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

// Check probes one dependency. Required checks make the service critical when
// they fail; optional ones only degrade it.
type Check struct {
	Name     string
	Required bool
	Probe    func(ctx context.Context) error
}

// Monitor aggregates dependency health.
type Monitor struct {
	checks     []Check
	interval   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a monitor that probes at most once per 10 seconds.
func NewMonitor(checks ...Check) *Monitor {
	return &Monitor{checks: checks, interval: 10 * time.Second}
}

// CheckHealth runs the probes, or returns the cached report when it is fresh.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	report := HealthReport{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth, len(m.checks)),
	}
	for _, c := range m.checks {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := c.Probe(probeCtx)
		cancel()

		h := ComponentHealth{Name: c.Name, Status: StatusHealthy}
		if err != nil {
			h.Error = err.Error()
			h.Status = StatusDegraded
			if c.Required {
				h.Status = StatusCritical
			}
		}
		report.Components[c.Name] = h

		// Worst case wins
		if h.Status == StatusCritical {
			report.Status = StatusCritical
		} else if h.Status == StatusDegraded && report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.monitor.CheckHealth(c.Request.Context())
	code := http.StatusOK
	if report.Status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": report.Status})
}

func (s *Server) handleHealthDetailed(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.CheckHealth(c.Request.Context()))
}
