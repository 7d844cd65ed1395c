package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck reports the state of one component.
type HealthCheck func() (HealthStatus, string)

type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
}

type HealthReport struct {
	Status     HealthStatus      `json:"overall_status"`
	Uptime     string            `json:"uptime"`
	Components []ComponentHealth `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

type HealthMonitor struct {
	mu            sync.RWMutex
	components    map[string]*ComponentHealth
	checks        map[string]HealthCheck
	startTime     time.Time
	checkInterval time.Duration
	logger        *zap.Logger
}

func NewHealthMonitor(checkInterval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		components:    make(map[string]*ComponentHealth),
		checks:        make(map[string]HealthCheck),
		startTime:     time.Now(),
		checkInterval: checkInterval,
		logger:        logger,
	}
}

func (hm *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.components[name] = &ComponentHealth{
		Name:      name,
		Status:    StatusHealthy,
		LastCheck: time.Now(),
	}
	hm.checks[name] = check
	hm.logger.Debug("health check registered", zap.String("component", name))
}

func (hm *HealthMonitor) CheckHealth(name string) {
	hm.mu.RLock()
	check, ok := hm.checks[name]
	hm.mu.RUnlock()
	if !ok {
		return
	}

	// Checks run unlocked; they may be slow or call back into the node.
	status, message := check()

	hm.mu.Lock()
	comp := hm.components[name]
	prev := comp.Status
	comp.Status = status
	comp.Message = message
	comp.LastCheck = time.Now()
	hm.mu.Unlock()

	if status != prev {
		hm.logger.Warn("component health changed",
			zap.String("component", name),
			zap.String("from", string(prev)),
			zap.String("to", string(status)),
			zap.String("message", message))
	}
}

func (hm *HealthMonitor) CheckAllHealth() {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	hm.mu.RUnlock()

	for _, name := range names {
		hm.CheckHealth(name)
	}
}

// GetHealth returns a copy of the last result for name, or nil.
func (hm *HealthMonitor) GetHealth(name string) *ComponentHealth {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	comp, ok := hm.components[name]
	if !ok {
		return nil
	}
	c := *comp
	return &c
}

func (hm *HealthMonitor) GetOverallHealth() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.overallLocked()
}

func (hm *HealthMonitor) overallLocked() HealthStatus {
	overall := StatusHealthy
	for _, comp := range hm.components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func (hm *HealthMonitor) Report() HealthReport {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	comps := make([]ComponentHealth, 0, len(hm.components))
	for _, comp := range hm.components {
		comps = append(comps, *comp)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].Name < comps[j].Name })

	return HealthReport{
		Status:     hm.overallLocked(),
		Uptime:     time.Since(hm.startTime).Round(time.Second).String(),
		Components: comps,
		Timestamp:  time.Now(),
	}
}

// ServeHTTP writes the JSON report; unhealthy nodes answer 503.
func (hm *HealthMonitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := hm.Report()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// StartPeriodicChecks runs every check each interval until ctx is done.
func (hm *HealthMonitor) StartPeriodicChecks(ctx context.Context) {
	SafeGoroutine(hm.logger, "health", func() {
		ticker := time.NewTicker(hm.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hm.CheckAllHealth()
			}
		}
	})
	hm.logger.Info("health monitor started", zap.Duration("interval", hm.checkInterval))
}

// LagCheck reports degraded once lag() passes degraded and unhealthy once
// it passes unhealthy.
func LagCheck(lag func() time.Duration, degraded, unhealthy time.Duration) HealthCheck {
	return func() (HealthStatus, string) {
		l := lag()
		switch {
		case l > unhealthy:
			return StatusUnhealthy, "behind schedule by " + l.Round(time.Millisecond).String()
		case l > degraded:
			return StatusDegraded, "behind schedule by " + l.Round(time.Millisecond).String()
		default:
			return StatusHealthy, ""
		}
	}
}
