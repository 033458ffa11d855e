// Package metrics periodically samples system, application, datastore and
// business gauges and stores them in minute and hour buckets.
package metrics

import (
	"context"
	"time"
)

// SystemMetrics are process resource gauges. Usages are percentages.
// MemoryUsage is meaningful only when MemoryLimitBytes is non-zero.
type SystemMetrics struct {
	CPUUsage         float64 `json:"cpu_usage"`
	MemoryUsage      float64 `json:"memory_usage"`
	DiskUsage        float64 `json:"disk_usage"`
	Goroutines       int     `json:"goroutines"`
	HeapBytes        uint64  `json:"heap_bytes"`
	MemoryBytes      uint64  `json:"memory_bytes"`
	MemoryLimitBytes uint64  `json:"memory_limit_bytes"`
}

// ApplicationMetrics aggregate the request path since the previous sample
type ApplicationMetrics struct {
	Requests       int64   `json:"requests"`
	Errors         int64   `json:"errors"`
	ErrorRate      float64 `json:"error_rate"`
	AvgResponseMS  float64 `json:"avg_response_ms"`
	MaxResponseMS  float64 `json:"max_response_ms"`
	RequestsPerSec float64 `json:"requests_per_sec"`
}

// DatastoreMetrics are round-trip latencies and pool gauges
type DatastoreMetrics struct {
	DBLatencyMS     float64 `json:"db_latency_ms"`
	DBOpenConns     int     `json:"db_open_conns"`
	DBInUse         int     `json:"db_in_use"`
	CacheLatencyMS  float64 `json:"cache_latency_ms"`
	CacheTotalConns uint32  `json:"cache_total_conns"`
	CacheIdleConns  uint32  `json:"cache_idle_conns"`
	CacheTimeouts   uint32  `json:"cache_timeouts"`
}

// BusinessMetrics are platform-level gauges
type BusinessMetrics struct {
	ActiveEntities    int64 `json:"active_entities"`
	ActiveSuspensions int64 `json:"active_suspensions"`
}

// Sample is the combined reading of one tick. A group is nil when its
// collector failed; the failure is in Errors keyed by group.
type Sample struct {
	Timestamp   time.Time           `json:"timestamp"`
	System      *SystemMetrics      `json:"system,omitempty"`
	Application *ApplicationMetrics `json:"application,omitempty"`
	Datastore   *DatastoreMetrics   `json:"datastore,omitempty"`
	Business    *BusinessMetrics    `json:"business,omitempty"`
	Errors      map[string]string   `json:"errors,omitempty"`
}

// Point is one stored sample
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Sample    *Sample   `json:"sample"`
}

// SystemCollector produces SystemMetrics
type SystemCollector interface {
	CollectSystem(ctx context.Context) (*SystemMetrics, error)
}

// ApplicationCollector produces ApplicationMetrics
type ApplicationCollector interface {
	CollectApplication(ctx context.Context) (*ApplicationMetrics, error)
}

// DatastoreCollector produces DatastoreMetrics
type DatastoreCollector interface {
	CollectDatastore(ctx context.Context) (*DatastoreMetrics, error)
}

// BusinessCollector produces BusinessMetrics
type BusinessCollector interface {
	CollectBusiness(ctx context.Context) (*BusinessMetrics, error)
}

// Collectors are the injected sources of a sample. Nil collectors are skipped.
type Collectors struct {
	System      SystemCollector
	Application ApplicationCollector
	Datastore   DatastoreCollector
	Business    BusinessCollector
}
