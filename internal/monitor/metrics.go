package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "worker"

// Metrics holds the job pipeline collectors plus an in-process latency window
// for the ops API. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	enqueued     *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	heartbeatGap prometheus.Histogram

	JobLatency *LatencyHistogram

	enqueuedTotal  atomic.Uint64
	succeededTotal atomic.Uint64
	failedTotal    atomic.Uint64
	retriesTotal   atomic.Uint64
	deadTotal      atomic.Uint64
	heartbeatNanos atomic.Int64
	heartbeatAge   atomic.Pointer[func() time.Duration]
}

// NewMetrics registers the collectors on reg. A nil reg gets a fresh registry
// so tests and multiple instances never collide on the default one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted into the queue",
		}, []string{"job_type"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs by outcome",
		}, []string{"job_type", "result"}), // result: success, fail
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Time spent running a job handler",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"job_type"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_scheduled_total",
			Help:      "Retries scheduled after a failed run",
		}, []string{"job_type"}),
		deadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_lettered_total",
			Help:      "Jobs that exhausted their retry budget",
		}, []string{"job_type"}),
		heartbeatGap: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_interval_seconds",
			Help:      "Seconds between consecutive worker heartbeats",
			Buckets:   []float64{1, 5, 10, 15, 30, 60, 120, 300},
		}),
		JobLatency: NewLatencyHistogram(1000),
	}
	// Read at scrape time so a stalled worker shows a growing age.
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_age_seconds",
		Help:      "Seconds since the last worker heartbeat",
	}, func() float64 { return m.HeartbeatAge().Seconds() })
	return m
}

// RegisterRuntimeCollectors adds Go runtime and process collectors.
func (m *Metrics) RegisterRuntimeCollectors() {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry is the gatherer behind /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobEnqueued(jobType string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.Add(1)
	m.enqueued.WithLabelValues(jobType).Inc()
}

// JobFinished records one handler run.
func (m *Metrics) JobFinished(jobType string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if ok {
		m.succeededTotal.Add(1)
	} else {
		result = "fail"
		m.failedTotal.Add(1)
	}
	m.runs.WithLabelValues(jobType, result).Inc()
	m.runDuration.WithLabelValues(jobType).Observe(d.Seconds())
	m.JobLatency.RecordDuration(d)
}

func (m *Metrics) RetryScheduled(jobType string) {
	if m == nil {
		return
	}
	m.retriesTotal.Add(1)
	m.retries.WithLabelValues(jobType).Inc()
}

func (m *Metrics) DeadLettered(jobType string) {
	if m == nil {
		return
	}
	m.deadTotal.Add(1)
	m.deadLettered.WithLabelValues(jobType).Inc()
}

// TrackHeartbeat sets the source of the live heartbeat age.
func (m *Metrics) TrackHeartbeat(age func() time.Duration) {
	if m == nil || age == nil {
		return
	}
	m.heartbeatAge.Store(&age)
}

// HeartbeatAge is the live age from the tracked source, zero when untracked.
func (m *Metrics) HeartbeatAge() time.Duration {
	if m == nil {
		return 0
	}
	if fn := m.heartbeatAge.Load(); fn != nil {
		return (*fn)()
	}
	return 0
}

// ObserveHeartbeat records the gap between two beats. The first beat has none.
func (m *Metrics) ObserveHeartbeat(interval time.Duration) {
	if m == nil || interval <= 0 {
		return
	}
	m.heartbeatNanos.Store(int64(interval))
	m.heartbeatGap.Observe(interval.Seconds())
}

// MetricsSnapshot is the JSON view served by the ops API.
type MetricsSnapshot struct {
	JobLatency          LatencyStats `json:"job_latency_ms"`
	JobsEnqueued        uint64       `json:"jobs_enqueued"`
	JobsSucceeded       uint64       `json:"jobs_succeeded"`
	JobsFailed          uint64       `json:"jobs_failed"`
	RetriesScheduled    uint64       `json:"retries_scheduled"`
	JobsDeadLettered    uint64       `json:"jobs_dead_lettered"`
	HeartbeatAgeSeconds float64      `json:"heartbeat_age_seconds"`
	HeartbeatGapSeconds float64      `json:"heartbeat_interval_seconds"`
	GoroutineCount      int          `json:"goroutine_count"`
	HeapAlloc           uint64       `json:"heap_alloc_bytes"`
	HeapSys             uint64       `json:"heap_sys_bytes"`
	Timestamp           time.Time    `json:"timestamp"`
}

// Snapshot returns a point-in-time view.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		JobLatency:          m.JobLatency.Stats(),
		JobsEnqueued:        m.enqueuedTotal.Load(),
		JobsSucceeded:       m.succeededTotal.Load(),
		JobsFailed:          m.failedTotal.Load(),
		RetriesScheduled:    m.retriesTotal.Load(),
		JobsDeadLettered:    m.deadTotal.Load(),
		HeartbeatAgeSeconds: m.HeartbeatAge().Seconds(),
		HeartbeatGapSeconds: time.Duration(m.heartbeatNanos.Load()).Seconds(),
		GoroutineCount:      runtime.NumGoroutine(),
		HeapAlloc:           memStats.HeapAlloc,
		HeapSys:             memStats.HeapSys,
		Timestamp:           time.Now(),
	}
}

// LatencyHistogram tracks latency samples in a sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}
