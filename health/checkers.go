package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/abaland/Home-Code/contracts"
	"github.com/abaland/Home-Code/internal/rabbitmq"
	"github.com/abaland/Home-Code/internal/reliability"
)

// BrokerChecker checks the client's broker connection. It connects when
// no connection is up, so a dead broker is reported as unhealthy.
type BrokerChecker struct {
	connManager *rabbitmq.ConnectionManager
	logger      *slog.Logger
}

// NewBrokerChecker creates a new broker connection checker
func NewBrokerChecker(connManager *rabbitmq.ConnectionManager, logger *slog.Logger) *BrokerChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokerChecker{
		connManager: connManager,
		logger:      logger,
	}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:    c.Name(),
		Details: make(map[string]interface{}),
	}

	ch, err := c.connManager.EnsureConnected(ctx)
	result.Details["url"] = rabbitmq.SanitizeURL(c.connManager.URL())
	result.Details["dials"] = c.connManager.Dials()
	if err != nil {
		c.logger.Debug("broker check failed", "error", err)
		result.Status = StatusUnhealthy
		result.Message = "Broker unreachable"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	if ch.IsClosed() {
		result.Status = StatusUnhealthy
		result.Message = "Channel is closed"
	} else {
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	}

	result.Duration = time.Since(start)
	result.Details["state"] = c.connManager.State().String()
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// DefaultManagementPort is the port of the RabbitMQ management plugin.
const DefaultManagementPort = 15672

// ManagementProbe checks that the broker node answers on its management
// HTTP port. It works before any AMQP connection exists.
type ManagementProbe struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewManagementProbe creates a probe for http://host:port/
func NewManagementProbe(host string, port int, logger *slog.Logger) *ManagementProbe {
	if port == 0 {
		port = DefaultManagementPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ManagementProbe{
		url:    "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/",
		client: &http.Client{Timeout: 3 * time.Second},
		logger: logger,
	}
}

// WithHTTPClient replaces the HTTP client
func (p *ManagementProbe) WithHTTPClient(client *http.Client) *ManagementProbe {
	p.client = client
	return p
}

// URL returns the probed address
func (p *ManagementProbe) URL() string {
	return p.url
}

func (p *ManagementProbe) Name() string {
	return "rabbitmq_management"
}

// Ping performs one request. Any answer below 500 means the node is up.
func (p *ManagementProbe) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("management endpoint answered %s", resp.Status)
	}
	return nil
}

// WaitUntilAlive pings until the node answers, following policy.
func (p *ManagementProbe) WaitUntilAlive(ctx context.Context, policy reliability.RetryPolicy) error {
	err := reliability.Retry(ctx, policy, p.Ping,
		reliability.WithOperation("management probe"),
		reliability.WithRetryLogger(p.logger),
	)
	if err == nil {
		p.logger.Info("RabbitMQ server is alive", "url", p.url)
	}
	return err
}

func (p *ManagementProbe) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:    p.Name(),
		Details: map[string]interface{}{"url": p.url},
	}

	if err := p.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Management endpoint unreachable"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Node is alive"
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// VersionStatus compares a worker's reported version to the expected one.
type VersionStatus string

const (
	VersionCurrent  VersionStatus = "current"
	VersionOutdated VersionStatus = "outdated"
	VersionAhead    VersionStatus = "ahead"
	VersionUnknown  VersionStatus = "unknown"
)

// VersionCheck tracks the configuration version reported by each worker.
type VersionCheck struct {
	expected   *semver.Version
	constraint *semver.Constraints
	logger     *slog.Logger

	mu      sync.RWMutex
	workers map[string]workerVersion
}

type workerVersion struct {
	version string
	status  VersionStatus
	seen    time.Time
}

// VersionOption configures a VersionCheck
type VersionOption func(*VersionCheck) error

// WithVersionConstraint accepts any worker version satisfying constraint,
// e.g. "~1.4".
func WithVersionConstraint(constraint string) VersionOption {
	return func(v *VersionCheck) error {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
		}
		v.constraint = c
		return nil
	}
}

// WithVersionLogger sets the logger
func WithVersionLogger(logger *slog.Logger) VersionOption {
	return func(v *VersionCheck) error {
		v.logger = logger
		return nil
	}
}

// NewVersionCheck creates a check expecting workers to report expected.
func NewVersionCheck(expected string, options ...VersionOption) (*VersionCheck, error) {
	version, err := semver.NewVersion(expected)
	if err != nil {
		return nil, fmt.Errorf("invalid expected version %q: %w", expected, err)
	}

	v := &VersionCheck{
		expected: version,
		logger:   slog.Default(),
		workers:  make(map[string]workerVersion),
	}
	for _, opt := range options {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Expected returns the expected version
func (v *VersionCheck) Expected() string {
	return v.expected.String()
}

// Compare classifies a reported version.
func (v *VersionCheck) Compare(reported string) VersionStatus {
	if reported == "" {
		return VersionUnknown
	}
	version, err := semver.NewVersion(reported)
	if err != nil {
		return VersionUnknown
	}
	if v.constraint != nil && v.constraint.Check(version) {
		return VersionCurrent
	}

	switch version.Compare(v.expected) {
	case 0:
		return VersionCurrent
	case -1:
		return VersionOutdated
	default:
		return VersionAhead
	}
}

// Observe records the version of one reply and warns when it is not current.
func (v *VersionCheck) Observe(resp contracts.WorkerResponse) VersionStatus {
	status := v.Compare(resp.Version)

	v.mu.Lock()
	v.workers[resp.ID] = workerVersion{version: resp.Version, status: status, seen: time.Now()}
	v.mu.Unlock()

	if status != VersionCurrent {
		v.logger.Warn("worker configuration not up to date",
			"worker", resp.ID,
			"version", resp.Version,
			"expected", v.expected.String(),
			"status", status,
		)
	}
	return status
}

// Outdated returns the sorted ids of observed workers that are not current.
func (v *VersionCheck) Outdated() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var ids []string
	for id, w := range v.workers {
		if w.status != VersionCurrent {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Workers returns the last status of every observed worker
func (v *VersionCheck) Workers() map[string]VersionStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[string]VersionStatus, len(v.workers))
	for id, w := range v.workers {
		out[id] = w.status
	}
	return out
}

func (v *VersionCheck) Name() string {
	return "worker_versions"
}

// Check is degraded while any observed worker is not current.
func (v *VersionCheck) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:    v.Name(),
		Status:  StatusHealthy,
		Message: "All workers up to date",
		Details: map[string]interface{}{"expected": v.expected.String()},
	}

	v.mu.RLock()
	for id, w := range v.workers {
		result.Details[id] = w.version
	}
	v.mu.RUnlock()

	stale := v.Outdated()
	if len(stale) > 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d worker(s) not up to date", len(stale))
	}
	result.Duration = time.Since(start)
	return result
}
