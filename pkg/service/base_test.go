package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/pkg/health"
	"github.com/corerpc/corerpc/pkg/service"
)

func TestRunnerStopTriggersGracefulShutdown(t *testing.T) {
	r := service.NewRunner("interop-server-test", "0.0.0")
	r.Logger.DisableConsoleOutput()

	started := make(chan struct{})
	stopped := make(chan struct{})
	r.StartFunc = func(ctx context.Context) error {
		close(started)
		return nil
	}
	r.StopFunc = func(ctx context.Context, gracePeriod time.Duration) error {
		close(stopped)
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("StartFunc never ran")
	}

	r.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run never returned after Stop")
	}

	select {
	case <-stopped:
	default:
		t.Fatal("StopFunc never ran")
	}
	assert.Equal(t, service.StateStopped, r.State())
}

func TestRunnerStartFuncErrorAbortsRun(t *testing.T) {
	r := service.NewRunner("interop-server-test", "0.0.0")
	r.Logger.DisableConsoleOutput()
	r.StartFunc = func(ctx context.Context) error { return errors.New("listen failed") }

	err := r.Run(context.Background())
	assert.Error(t, err)
}

func TestRunnerContextCancellationStopsRun(t *testing.T) {
	r := service.NewRunner("interop-server-test", "0.0.0")
	r.Logger.DisableConsoleOutput()
	r.HealthChecks = map[string]health.CheckFunc{
		"always-ok": func() error { return nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run never returned after context cancellation")
	}
}

func TestCollectMetricsReportsGoroutineCount(t *testing.T) {
	m := service.CollectMetrics()
	assert.Greater(t, m.Goroutines, int64(0))
}
