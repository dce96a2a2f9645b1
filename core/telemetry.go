package core

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// telemetry.go is the session's health/metrics collector: structured JSON
// logging to a file plus a Prometheus registry, reporting this engine's own
// figures (input and consensus throughput, tick latency and overrun count,
// per-event-kind subscriber counts, active participants).

// Metrics is a point-in-time snapshot of engine health.
type Metrics struct {
	InputsPerSec           float64 `json:"inputs_per_sec"`
	ConsensusUpdatesPerSec float64 `json:"consensus_updates_per_sec"`
	LastTickLatencyMs      float64 `json:"last_tick_latency_ms"`
	MissedTicks            int64   `json:"missed_ticks"`
	ActiveParticipants     int     `json:"active_participants"`
	MemAlloc               uint64  `json:"mem_alloc"`
	NumGoroutines          int     `json:"goroutines"`
	TimestampMs            int64   `json:"timestamp_ms"`
}

// Telemetry subscribes to the bus's stats events and the client registry,
// logs structured snapshots, and exposes them over Prometheus.
type Telemetry struct {
	bus     *Bus
	clients *ClientRegistry
	clock   *MonoClock

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	sub *Subscription

	registry               *prometheus.Registry
	inputsGauge            prometheus.Gauge
	consensusGauge         prometheus.Gauge
	tickLatencyGauge       prometheus.Gauge
	missedTicksCounter     prometheus.Counter
	activeParticipantsGauge prometheus.Gauge
	memAllocGauge          prometheus.Gauge
	goroutinesGauge        prometheus.Gauge
	subscribersGaugeVec    *prometheus.GaugeVec
	errorCounter           prometheus.Counter

	missedTicksReported int64 // bus's cumulative MissedTicks already added to missedTicksCounter
}

// NewTelemetry configures a Telemetry collector writing JSON logs to path and
// registering its gauges on a fresh Prometheus registry.
func NewTelemetry(bus *Bus, clients *ClientRegistry, clock *MonoClock, path string) (*Telemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	t := &Telemetry{bus: bus, clients: clients, clock: clock, log: lg, file: f, registry: reg}

	t.inputsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_inputs_per_second",
		Help: "Accepted audience inputs per second",
	})
	t.consensusGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_consensus_updates_per_second",
		Help: "Published consensus updates per second",
	})
	t.tickLatencyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_tick_latency_ms",
		Help: "Wall-clock duration of the most recent tick",
	})
	t.missedTicksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_missed_ticks_total",
		Help: "Total number of ticks that overran their period",
	})
	t.activeParticipantsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_participants",
		Help: "Number of clients with an accepted input in the last 10 seconds",
	})
	t.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_mem_alloc_bytes",
		Help: "Current memory allocation in bytes",
	})
	t.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_goroutines",
		Help: "Number of running goroutines",
	})
	t.subscribersGaugeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_bus_subscribers",
		Help: "Number of active subscribers by event kind",
	}, []string{"kind"})
	t.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_log_errors_total",
		Help: "Total number of error events logged",
	})

	reg.MustRegister(
		t.inputsGauge,
		t.consensusGauge,
		t.tickLatencyGauge,
		t.missedTicksCounter,
		t.activeParticipantsGauge,
		t.memAllocGauge,
		t.goroutinesGauge,
		t.subscribersGaugeVec,
		t.errorCounter,
	)

	if bus != nil {
		t.sub = bus.SubscribeFunc(EventStats, 32, t.onStats)
	}
	return t, nil
}

func (t *Telemetry) onStats(v any) {
	payload, ok := v.(StatsPayload)
	if !ok {
		return
	}
	t.inputsGauge.Set(payload.InputsPerSec)
	t.consensusGauge.Set(payload.ConsensusUpdatesPerSec)
	t.tickLatencyGauge.Set(payload.LastTickLatencyMs)
	if d := payload.MissedTicks - t.missedTicksReported; d > 0 {
		t.missedTicksCounter.Add(float64(d))
		t.missedTicksReported = payload.MissedTicks
	}
	for kind, n := range payload.SubscribersByKind {
		t.subscribersGaugeVec.WithLabelValues(string(kind)).Set(float64(n))
	}
	t.LogEvent(logrus.InfoLevel, "stats tick")
}

// Close unsubscribes from the bus and releases the underlying log file.
func (t *Telemetry) Close() error {
	if t.sub != nil && t.bus != nil {
		t.bus.Unsubscribe(t.sub)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// Rotate switches logging to a new file path.
func (t *Telemetry) Rotate(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	t.log.SetOutput(f)
	t.file = f
	return nil
}

// LogEvent records an arbitrary message with the specified log level.
func (t *Telemetry) LogEvent(level logrus.Level, msg string) {
	t.mu.Lock()
	if level >= logrus.ErrorLevel {
		t.errorCounter.Inc()
	}
	t.log.Log(level, msg)
	t.mu.Unlock()
}

// Snapshot gathers current metrics from the runtime and client registry.
func (t *Telemetry) Snapshot() Metrics {
	nowMs := t.clock.NowMs()
	m := Metrics{TimestampMs: nowMs, NumGoroutines: runtime.NumGoroutine()}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.MemAlloc = mem.Alloc

	if t.clients != nil {
		m.ActiveParticipants = t.clients.ActiveCount(nowMs, 10_000)
	}
	return m
}

// RecordMetrics captures the current snapshot and updates Prometheus gauges.
func (t *Telemetry) RecordMetrics() {
	m := t.Snapshot()
	t.memAllocGauge.Set(float64(m.MemAlloc))
	t.goroutinesGauge.Set(float64(m.NumGoroutines))
	t.activeParticipantsGauge.Set(float64(m.ActiveParticipants))
	t.LogEvent(logrus.InfoLevel, "metrics recorded")
}

// Handler returns an http.Handler serving this collector's registry in
// Prometheus exposition format, for embedding in a host process's own
// mux instead of StartMetricsServer's standalone listener.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RunMetricsCollector periodically records metrics until the context is
// canceled.
func (t *Telemetry) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.RecordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// StartMetricsServer exposes a Prometheus metrics endpoint on the given
// address. It returns the underlying http.Server so callers may manage its
// lifecycle.
func (t *Telemetry) StartMetricsServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv, nil
}

// ShutdownMetricsServer gracefully stops the metrics HTTP server.
func (t *Telemetry) ShutdownMetricsServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
