package ipc

import (
	"context"
	"sync"
	"time"

	"github.com/yllada/hostbridge/common"
)

// HealthState represents the current health of the host connection.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often the host is pinged.
	CheckInterval time.Duration
	// Timeout bounds a single ping.
	Timeout time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:    common.HealthInterval,
		Timeout:          common.HealthTimeout,
		FailureThreshold: 3,
	}
}

// HostHealth is a point-in-time view of host liveness.
type HostHealth struct {
	State            HealthState
	LastCheck        time.Time
	LastSuccess      time.Time
	ConsecutiveFails int
	Latency          time.Duration
	LastError        error
}

// PingFunc checks the host once.
type PingFunc func(ctx context.Context) error

// HealthChecker pings the host periodically. It only observes: in-flight
// requests are never cancelled because the host looks unhealthy.
type HealthChecker struct {
	mu             sync.RWMutex
	config         HealthConfig
	ping           PingFunc
	log            common.Logger
	running        bool
	stopChan       chan struct{}
	health         HostHealth
	onHealthChange func(oldState, newState HealthState)
}

// NewHealthChecker creates a health checker around ping.
func NewHealthChecker(ping PingFunc, config HealthConfig, log common.Logger) *HealthChecker {
	if log == nil {
		log = common.NopLogger{}
	}
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	return &HealthChecker{
		config:   config,
		ping:     ping,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = callback
}

// Start begins the health checking loop.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.running || hc.config.CheckInterval <= 0 {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.stopChan = make(chan struct{})
	stop := hc.stopChan
	hc.mu.Unlock()

	hc.log.Info("Health checker started (interval: %v)", hc.config.CheckInterval)

	go hc.runLoop(stop)
}

// Stop stops the health checking loop.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	close(hc.stopChan)
	hc.mu.Unlock()

	hc.log.Info("Health checker stopped")
}

// IsRunning returns whether the health checker is currently running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.running
}

// Health returns a copy of the current host health.
func (hc *HealthChecker) Health() HostHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.health
}

func (hc *HealthChecker) runLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(hc.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hc.CheckNow(context.Background())
		}
	}
}

// CheckNow pings the host once and updates the health state.
func (hc *HealthChecker) CheckNow(ctx context.Context) HostHealth {
	if hc.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := hc.ping(ctx)
	latency := time.Since(start)

	hc.mu.Lock()
	health := &hc.health
	health.LastCheck = time.Now()
	oldState := health.State

	if err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		health.LastError = err
		hc.log.Warn("Host ping failed (attempt %d/%d): %v",
			health.ConsecutiveFails, hc.config.FailureThreshold, err)

		if health.ConsecutiveFails >= hc.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = health.LastCheck
		health.Latency = latency
		health.LastError = nil
		health.State = HealthHealthy
	}

	snapshot := *health
	callback := hc.onHealthChange
	hc.mu.Unlock()

	if oldState != snapshot.State {
		hc.log.Info("Host health changed: %s -> %s", oldState, snapshot.State)
		if callback != nil {
			go callback(oldState, snapshot.State)
		}
	}
	return snapshot
}
