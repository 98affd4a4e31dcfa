// Package monitor samples process runtime statistics and exports them as
// prometheus gauges.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const sampleInterval = time.Second

// SystemMonitor samples runtime statistics on a fixed interval.
type SystemMonitor struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	metrics struct {
		memUsage    prometheus.Gauge
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
	}
	wg sync.WaitGroup
}

// NewSystemMonitor starts a sampler registered on reg.
func NewSystemMonitor(ctx context.Context, reg prometheus.Registerer, logger *zap.Logger) (*SystemMonitor, error) {
	ctx, cancel := context.WithCancel(ctx)
	m := &SystemMonitor{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	m.metrics.memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "system_memory_usage_percent",
		Help: "Allocated heap as a share of memory obtained from the OS",
	})
	m.metrics.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "system_goroutines",
		Help: "Current number of goroutines",
	})
	m.metrics.heapObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "system_heap_objects",
		Help: "Current number of heap objects",
	})
	m.metrics.heapAlloc = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "system_heap_alloc_bytes",
		Help: "Current heap allocation in bytes",
	})
	m.metrics.gcPause = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "system_gc_pause_seconds",
		Help: "Most recent GC pause duration",
	})

	for _, c := range []prometheus.Collector{
		m.metrics.memUsage,
		m.metrics.goroutines,
		m.metrics.heapObjects,
		m.metrics.heapAlloc,
		m.metrics.gcPause,
	} {
		if err := reg.Register(c); err != nil {
			cancel()
			return nil, err
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()

	return m, nil
}

func (m *SystemMonitor) run() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *SystemMonitor) collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.metrics.memUsage.Set(memoryUsage(&memStats))
	m.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	m.metrics.heapObjects.Set(float64(memStats.HeapObjects))
	m.metrics.heapAlloc.Set(float64(memStats.HeapAlloc))
	m.metrics.gcPause.Set(lastGCPause(&memStats).Seconds())
}

// GetMetrics returns a point-in-time sample for log output.
func (m *SystemMonitor) GetMetrics() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"mem_usage":    memoryUsage(&memStats),
		"goroutines":   int64(runtime.NumGoroutine()),
		"heap_objects": int64(memStats.HeapObjects),
		"heap_alloc":   int64(memStats.HeapAlloc),
		"gc_pause":     lastGCPause(&memStats).Seconds(),
	}
}

// Cleanup stops the sampler and waits for it to exit.
func (m *SystemMonitor) Cleanup() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

func memoryUsage(memStats *runtime.MemStats) float64 {
	if memStats.Sys == 0 {
		return 0
	}
	return float64(memStats.Alloc) / float64(memStats.Sys) * 100
}

func lastGCPause(memStats *runtime.MemStats) time.Duration {
	return time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256])
}
