package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name     string                 `json:"name"`
	Status   Status                 `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Duration time.Duration          `json:"duration"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Role says how much a failing check weighs in the report.
type Role int

const (
	// RoleBroker checks gate the command path. One unhealthy broker check
	// makes the whole report unhealthy.
	RoleBroker Role = iota
	// RoleAdvisory checks (management port, worker versions) can only
	// degrade the report: commands still flow while they fail.
	RoleAdvisory
)

// Report is the health of one home controller client. Broker is the worst
// status of the broker checks, empty when none is watched.
type Report struct {
	Status          Status                 `json:"status"`
	Broker          Status                 `json:"broker,omitempty"`
	OutdatedWorkers []string               `json:"outdated_workers,omitempty"`
	ExpectedVersion string                 `json:"expected_version,omitempty"`
	Build           string                 `json:"build,omitempty"`
	Checks          map[string]CheckResult `json:"checks"`
	Duration        time.Duration          `json:"duration"`
}

type watched struct {
	checker Checker
	role    Role
}

// Monitor runs the broker, management and version checks of a client.
type Monitor struct {
	build string

	mu       sync.RWMutex
	checks   []watched
	versions *VersionCheck
}

// NewMonitor creates a monitor reporting build as the client version.
func NewMonitor(build string) *Monitor {
	return &Monitor{build: build}
}

// Watch adds a check with the given role.
func (m *Monitor) Watch(checker Checker, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, watched{checker: checker, role: role})
}

// WatchBroker adds a check that gates the command path.
func (m *Monitor) WatchBroker(checker Checker) {
	m.Watch(checker, RoleBroker)
}

// WatchVersions adds the worker version check. Workers that are not
// current are listed in Report.OutdatedWorkers.
func (m *Monitor) WatchVersions(versions *VersionCheck) {
	m.Watch(versions, RoleAdvisory)
	m.mu.Lock()
	m.versions = versions
	m.mu.Unlock()
}

// Check runs every check concurrently. A check still running when ctx is
// done counts as unhealthy for its role.
func (m *Monitor) Check(ctx context.Context) Report {
	start := time.Now()

	m.mu.RLock()
	checks := append([]watched(nil), m.checks...)
	versions := m.versions
	m.mu.RUnlock()

	results := make([]chan CheckResult, len(checks))
	for i, w := range checks {
		results[i] = make(chan CheckResult, 1)
		go func(out chan<- CheckResult, checker Checker) {
			out <- checker.Check(ctx)
		}(results[i], w.checker)
	}

	report := Report{
		Status: StatusHealthy,
		Build:  m.build,
		Checks: make(map[string]CheckResult, len(checks)),
	}
	for i, w := range checks {
		var result CheckResult
		select {
		case result = <-results[i]:
		case <-ctx.Done():
			result = CheckResult{
				Name:     w.checker.Name(),
				Status:   StatusUnhealthy,
				Message:  "check timed out",
				Duration: time.Since(start),
				Error:    ctx.Err().Error(),
			}
		}
		report.Checks[w.checker.Name()] = result

		status := result.Status
		switch w.role {
		case RoleBroker:
			report.Broker = worst(report.Broker, status)
		case RoleAdvisory:
			if status == StatusUnhealthy {
				status = StatusDegraded
			}
		}
		report.Status = worst(report.Status, status)
	}

	if versions != nil {
		report.ExpectedVersion = versions.Expected()
		report.OutdatedWorkers = versions.Outdated()
	}
	report.Duration = time.Since(start)
	return report
}

// worst orders statuses unhealthy > degraded > healthy; "" is ignored.
func worst(a, b Status) Status {
	switch {
	case a == StatusUnhealthy || b == StatusUnhealthy:
		return StatusUnhealthy
	case a == StatusDegraded || b == StatusDegraded:
		return StatusDegraded
	case a == "":
		return b
	default:
		return a
	}
}

// Handler serves the monitor report as JSON. It answers 503 only when the
// broker is unreachable, since advisory failures never block commands.
type Handler struct {
	monitor *Monitor
	timeout time.Duration
}

// NewHandler creates a new health check HTTP handler
func NewHandler(monitor *Monitor, timeout time.Duration) *Handler {
	return &Handler{
		monitor: monitor,
		timeout: timeout,
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := h.monitor.Check(ctx)

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		http.Error(w, "Failed to encode health response", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}
