// Package service adapts the teacher's BaseService lifecycle (signal
// handling, graceful stop, health loop) down to a single long-running
// process's shape: cmd/interop-server has no supervisor to register with
// or heartbeat to, so Runner keeps only the parts of BaseService.Run that
// still apply.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/corerpc/corerpc/pkg/config"
	"github.com/corerpc/corerpc/pkg/health"
	"github.com/corerpc/corerpc/pkg/logger"
)

// State mirrors the teacher's ServiceState enum, trimmed to the states a
// standalone process actually passes through.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}

// Runner owns a process's lifecycle: it starts an implementation, runs a
// health-check loop, waits for a shutdown signal (SIGINT/SIGTERM, context
// cancellation, or an explicit Stop call), and drives a graceful shutdown.
type Runner struct {
	Name       string
	Version    string
	InstanceID string

	Logger        *logger.Logger
	Config        *config.Config
	HealthChecker *health.Checker

	// StartFunc begins the implementation's main work; it must return once
	// serving is underway, not block for the process's lifetime.
	StartFunc func(ctx context.Context) error
	// StopFunc gracefully shuts the implementation down within gracePeriod.
	StopFunc func(ctx context.Context, gracePeriod time.Duration) error
	// HealthChecks are run on a fixed interval while the runner is up.
	HealthChecks map[string]health.CheckFunc
	// GracePeriod is passed to StopFunc; defaults to 10s if zero. Runner
	// does not itself time StopFunc out.
	GracePeriod time.Duration

	mu    sync.RWMutex
	state State

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// NewRunner creates a Runner for name/version, with its own logger, config
// store, and health checker.
func NewRunner(name, version string) *Runner {
	return &Runner{
		Name:          name,
		Version:       version,
		InstanceID:    uuid.New().String(),
		Logger:        logger.New(name, version),
		Config:        config.New(),
		HealthChecker: health.NewChecker(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
}

// State reports the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run starts the implementation and blocks until a shutdown signal arrives,
// then drives a graceful stop. Mirrors the teacher's BaseService.Run, minus
// the supervisor registration/heartbeat/log-streaming phases this binding
// has no supervisor to talk to.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateStarting)

	if r.StartFunc != nil {
		if err := r.StartFunc(ctx); err != nil {
			return fmt.Errorf("service: start: %w", err)
		}
	}
	r.Logger.Infof("%s started successfully (instance %s)", r.Name, r.InstanceID)

	if len(r.HealthChecks) > 0 {
		go r.healthCheckLoop(ctx)
	}

	r.setState(StateRunning)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		r.Logger.Info("received shutdown signal")
	case <-r.stopCh:
		r.Logger.Info("received stop command")
	case <-ctx.Done():
		r.Logger.Info("context cancelled")
	}

	r.setState(StateStopping)
	return r.shutdown(ctx)
}

// Stop requests a graceful shutdown from outside Run's own signal handling
// (e.g. a test driving the runner programmatically).
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Stopped returns a channel closed once shutdown has completed.
func (r *Runner) Stopped() <-chan struct{} { return r.stoppedCh }

func (r *Runner) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for name, check := range r.HealthChecks {
				r.HealthChecker.RunCheck(name, check)
			}
			m := CollectMetrics()
			r.Logger.Debugf("status=%s goroutines=%d alloc_bytes=%d",
				r.HealthChecker.GetOverallStatus(), m.Goroutines, m.MemoryUsageBytes)
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runner) shutdown(ctx context.Context) error {
	r.Logger.Info("starting graceful shutdown")

	gracePeriod := r.GracePeriod
	if gracePeriod == 0 {
		gracePeriod = 10 * time.Second
	}

	if r.StopFunc != nil {
		if err := r.StopFunc(ctx, gracePeriod); err != nil {
			r.Logger.Errorf("shutdown error: %v", err)
		}
	}

	close(r.stoppedCh)
	r.setState(StateStopped)
	r.Logger.Info("stopped")
	return nil
}
