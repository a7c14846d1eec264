// Package metrics exposes Prometheus counters for the watch pipeline and a
// small /healthz endpoint with dependency liveness probes.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the watch daemon.
type Metrics struct {
	TicksTotal      prometheus.Counter
	RejectedTicks   prometheus.Counter
	RingBufOverflow prometheus.Counter

	CalcCycles          prometheus.Counter
	IndicatorComputeDur prometheus.Histogram
	SnapshotsTotal      prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	SyncActionsTotal *prometheus.CounterVec
	RateBudgetUsed   prometheus.Gauge
	StreamReconnects prometheus.Counter
	StreamState      prometheus.Gauge // 0=disconnected 1=connecting 2=connected 3=failed

	SQLiteCommitDur prometheus.Histogram
	RetentionSwept  prometheus.Counter

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_ticks_total",
			Help: "Total ticks received from the stream",
		}),
		RejectedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_rejected_ticks_total",
			Help: "Malformed ticks rejected at the window boundary",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped ticks)",
		}),
		CalcCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_calc_cycles_total",
			Help: "Indicator calculation cycles completed",
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickerwatch_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per symbol",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_snapshots_total",
			Help: "Indicator snapshots produced",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_cache_hits_total",
			Help: "Query cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_cache_misses_total",
			Help: "Query cache misses",
		}),
		SyncActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickerwatch_sync_actions_total",
			Help: "Sync actions executed (by action and result)",
		}, []string{"action", "result"}),
		RateBudgetUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickerwatch_rate_budget_in_window",
			Help: "API calls currently inside the sliding rate window",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_stream_reconnects_total",
			Help: "Stream reconnection attempts",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickerwatch_stream_state",
			Help: "Stream state (0=disconnected, 1=connecting, 2=connected, 3=failed)",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickerwatch_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RetentionSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_retention_swept_rows_total",
			Help: "Rows deleted by retention sweeps",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickerwatch_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_redis_circuit_breaker_trips_total",
			Help: "Times the redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerwatch_redis_buffered_writes_total",
			Help: "Hot-tier writes buffered while the circuit was open",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.RejectedTicks,
		m.RingBufOverflow,
		m.CalcCycles,
		m.IndicatorComputeDur,
		m.SnapshotsTotal,
		m.CacheHits,
		m.CacheMisses,
		m.SyncActionsTotal,
		m.RateBudgetUsed,
		m.StreamReconnects,
		m.StreamState,
		m.SQLiteCommitDur,
		m.RetentionSwept,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)

	return m
}

// HealthStatus tracks system health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastTickTime    time.Time `json:"last_tick_time"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	EngineOK        bool      `json:"engine_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineOK(v bool) {
	h.mu.Lock()
	h.EngineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// CheckRedis pings redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.StreamConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		EngineOK        bool    `json:"engine_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		EngineOK:        h.EngineOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
