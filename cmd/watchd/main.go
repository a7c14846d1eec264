package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"tickerwatch/config"
	"tickerwatch/internal/cache"
	"tickerwatch/internal/calendar"
	"tickerwatch/internal/indicator"
	"tickerwatch/internal/logger"
	"tickerwatch/internal/metrics"
	"tickerwatch/internal/model"
	"tickerwatch/internal/provider"
	"tickerwatch/internal/ringbuf"
	"tickerwatch/internal/service"
	"tickerwatch/internal/store"
	redisstore "tickerwatch/internal/store/redis"
	sqlitestore "tickerwatch/internal/store/sqlite"
	watchsync "tickerwatch/internal/sync"
	"tickerwatch/internal/window"
)

const tickRingCapacity = 16384

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[watchd] starting...")

	cfg := config.Load()
	logger.Init("watchd", logger.ParseLevel(cfg.LogLevel))

	symbols := cfg.ParseSymbols()
	log.Printf("[watchd] watching %d symbols (benchmark %s)", len(symbols), cfg.Benchmark)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Durable tier (SQLite) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	db, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[watchd] sqlite init failed: %v", err)
	}
	defer db.Close()
	db.OnCommit = func(d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	health.SetSQLiteOK(true)
	log.Println("[watchd] sqlite ready")

	// ---- Hot tier (Redis, optional) ----
	var hot *redisstore.BufferedWriter
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[watchd] WARNING: redis init failed: %v (continuing without hot tier)", err)
	} else {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[watchd] redis circuit breaker: %s -> %s", from, to)
		}
		hot = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
		hot.OnBuffer = func() {
			prom.RedisBufferedWrites.Inc()
		}
		health.SetRedisConnected(true)
		log.Println("[watchd] redis hot tier ready")
	}

	st := store.New(db, hot)
	st.OnSwept = func(rows int64) {
		prom.RetentionSwept.Add(float64(rows))
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), db.Handle(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, db.Handle(), 10*time.Second)
	}

	// ---- Windows & indicator engine ----
	windows := window.NewManager()
	windows.OnRejectedTick = func() {
		prom.RejectedTicks.Inc()
	}

	cal := calendar.New("xnys")

	eng := indicator.NewEngine(windows, st, cal, symbols, cfg.Benchmark, cfg.CalcInterval)
	eng.OnCycle = func(d time.Duration) {
		prom.CalcCycles.Inc()
		prom.IndicatorComputeDur.Observe(d.Seconds())
	}
	eng.OnResult = func() {
		prom.SnapshotsTotal.Inc()
	}
	health.SetEngineOK(true)

	// ---- Provider (REST + stream) ----
	restRate := rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/cfg.RateWindow.Seconds()), 10)
	client := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, restRate)

	stream := provider.NewStream(cfg.ProviderWSURL, cfg.ProviderAPIKey)
	if err := stream.Subscribe(symbols...); err != nil {
		log.Printf("[watchd] initial subscribe: %v", err)
	}
	stream.OnError = func(err error) {
		log.Printf("[watchd] stream error frame: %v", err)
	}

	// ---- Tick ingestion: stream -> ring buffer (service pumps it) ----
	ring := ringbuf.New(tickRingCapacity)
	stream.OnTick = func(t model.Tick) {
		if !ring.Push(t) {
			prom.RingBufOverflow.Inc()
		}
	}

	// ---- Query cache & sync orchestrator ----
	qc := cache.New()

	orch := watchsync.New(st, client, stream, qc, watchsync.Config{
		Symbols:      symbols,
		SyncInterval: cfg.SyncInterval,
		RateLimit:    cfg.RateLimit,
		RateWindow:   cfg.RateWindow,
		SafetyMargin: cfg.RateSafetyMargin,
		Thresholds:   watchsync.DefaultThresholds(),
		ConnPolicy:   watchsync.DefaultConnPolicy(),
	})
	orch.OnConnState = func(from, to watchsync.ConnState) {
		prom.StreamState.Set(float64(to))
		if to == watchsync.StateConnecting {
			prom.StreamReconnects.Inc()
		}
		health.SetStreamConnected(to == watchsync.StateConnected)
		log.Printf("[watchd] stream: %s -> %s", from, to)
	}
	orch.OnFailed = func(err error) {
		log.Printf("[watchd] stream reconnect budget exhausted: %v (RestartStream or restart required)", err)
	}
	orch.OnAction = func(action watchsync.Action, ok bool) {
		result := "ok"
		if !ok {
			result = "error"
		}
		prom.SyncActionsTotal.WithLabelValues(string(action), result).Inc()
	}
	orch.Seeder = windows

	// ---- Service facade ----
	svc := service.New(st, qc, eng, orch, windows, cal, symbols)
	svc.AttachTickSource(ring)
	svc.OnTicksFlushed = func(n int, last time.Time) {
		prom.TicksTotal.Add(float64(n))
		health.SetLastTickTime(last)
	}
	svc.RestoreSnapshots(ctx)
	svc.SeedIndicatorInputs(ctx)
	svc.Start(ctx)
	log.Println("[watchd] pipeline ready")

	// ---- Periodic operational gauges ----
	go runStatsLoop(ctx, svc, prom, 10*time.Second)

	// ---- Wait for shutdown ----
	<-sigCh
	log.Println("[watchd] shutting down...")
	cancel()

	svc.Stop()
	stream.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[watchd] bye")
}

// runStatsLoop mirrors service counters into the Prometheus gauges that
// cannot be wired as callbacks.
func runStatsLoop(ctx context.Context, svc *service.Service, prom *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastHits, lastMisses uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := svc.Stats()
			prom.RateBudgetUsed.Set(float64(stats.CallsInWindow))
			prom.CacheHits.Add(float64(stats.CacheHits - lastHits))
			prom.CacheMisses.Add(float64(stats.CacheMisses - lastMisses))
			lastHits, lastMisses = stats.CacheHits, stats.CacheMisses
		}
	}
}
