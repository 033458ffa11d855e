package metrics

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sync"
)

const (
	cpuTotal    = "/cpu/classes/total:cpu-seconds"
	cpuIdle     = "/cpu/classes/idle:cpu-seconds"
	memTotal    = "/memory/classes/total:bytes"
	memReleased = "/memory/classes/heap/released:bytes"
	heapObjects = "/memory/classes/heap/objects:bytes"
	goroutines  = "/sched/goroutines:goroutines"
)

// RuntimeCollector reads process gauges from the Go runtime. CPU usage is
// the non-idle share of the CPU time available to the process since the
// previous call. Memory usage is the memory held by the runtime as a share
// of the memory limit; without a limit it is not reported.
type RuntimeCollector struct {
	diskPath    string
	memoryLimit uint64

	mu        sync.Mutex
	samples   []metrics.Sample
	lastTotal float64
	lastIdle  float64
}

// NewRuntimeCollector creates a collector. diskPath is the mount whose
// usage is reported; empty disables disk usage. memoryLimit is in bytes;
// zero falls back to the runtime soft limit (GOMEMLIMIT) when one is set.
func NewRuntimeCollector(diskPath string, memoryLimit uint64) *RuntimeCollector {
	names := []string{cpuTotal, cpuIdle, memTotal, heapObjects, goroutines, memReleased}
	samples := make([]metrics.Sample, len(names))
	for i, n := range names {
		samples[i].Name = n
	}
	if memoryLimit == 0 {
		memoryLimit = runtimeMemoryLimit()
	}
	return &RuntimeCollector{diskPath: diskPath, memoryLimit: memoryLimit, samples: samples}
}

// runtimeMemoryLimit returns the soft limit, or 0 when none is set
func runtimeMemoryLimit() uint64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}
	return uint64(limit)
}

func (c *RuntimeCollector) CollectSystem(ctx context.Context) (*SystemMetrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.Read(c.samples)
	total := float64Value(c.samples[0])
	idle := float64Value(c.samples[1])
	held := uint64Value(c.samples[2]) - uint64Value(c.samples[5])
	heap := uint64Value(c.samples[3])

	out := &SystemMetrics{
		Goroutines:       int(uint64Value(c.samples[4])),
		HeapBytes:        heap,
		MemoryBytes:      held,
		MemoryLimitBytes: c.memoryLimit,
	}
	if out.Goroutines == 0 {
		out.Goroutines = runtime.NumGoroutine()
	}
	if dt := total - c.lastTotal; c.lastTotal > 0 && dt > 0 {
		out.CPUUsage = clampPercent((dt - (idle - c.lastIdle)) / dt * 100)
	}
	c.lastTotal, c.lastIdle = total, idle
	out.MemoryUsage = memoryPercent(held, c.memoryLimit)
	if c.diskPath != "" {
		usage, err := diskUsage(c.diskPath)
		if err != nil {
			return nil, err
		}
		out.DiskUsage = usage
	}
	return out, nil
}

func memoryPercent(held, limit uint64) float64 {
	if limit == 0 {
		return 0
	}
	return clampPercent(float64(held) / float64(limit) * 100)
}

func float64Value(s metrics.Sample) float64 {
	if s.Value.Kind() == metrics.KindFloat64 {
		return s.Value.Float64()
	}
	return 0
}

func uint64Value(s metrics.Sample) uint64 {
	if s.Value.Kind() == metrics.KindUint64 {
		return s.Value.Uint64()
	}
	return 0
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
