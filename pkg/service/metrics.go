package service

import (
	"runtime"
	"syscall"
)

// Metrics is a snapshot of process-level runtime stats, collected by
// Runner.healthCheckLoop for the logging cmd/interop-server emits
// alongside its health checks.
type Metrics struct {
	MemoryUsageBytes int64
	CPUUsagePercent  float64
	Goroutines       int64
}

// CollectMetrics takes a fresh runtime snapshot.
func CollectMetrics() Metrics {
	return Metrics{
		MemoryUsageBytes: getMemoryUsage(),
		CPUUsagePercent:  getCPUUsage(),
		Goroutines:       int64(runtime.NumGoroutine()),
	}
}

func getMemoryUsage() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Alloc)
}

func getCPUUsage() float64 {
	// TODO: Implement CPU usage tracking
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}

	// Convert to percentage
	return float64(rusage.Utime.Sec+rusage.Stime.Sec) / 100.0
}
