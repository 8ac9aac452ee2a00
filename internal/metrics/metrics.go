// Package metrics exposes Prometheus instrumentation for the fetch-and-merge
// core. The collectors are registered once at process start; an HTTP
// listener for scraping is optional and off by default, since the primary
// surface is an interactive terminal.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// FetchTotal counts upstream fetch outcomes by source and result
	// (fresh, cache_hit, not_found, rate_limited, unavailable).
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flighttrack_fetch_total",
		Help: "Total fetch operations by source and result",
	}, []string{"source", "result"})

	// UpstreamLatency observes wall time of actual upstream calls (cache
	// hits excluded).
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flighttrack_upstream_latency_seconds",
		Help:    "Latency of upstream provider calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"source"})

	// CacheEntries tracks the live entry count per cache.
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flighttrack_cache_entries",
		Help: "Number of entries per TTL cache",
	}, []string{"source"})

	// TrackedFlights is the current size of the tracking set.
	TrackedFlights = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flighttrack_tracked_flights",
		Help: "Number of flights currently tracked",
	})

	// RefreshCycles counts completed refresh cycles.
	RefreshCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flighttrack_refresh_cycles_total",
		Help: "Total completed refresh cycles",
	})

	// MergesApplied counts record merges applied to flight state.
	MergesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flighttrack_merges_applied_total",
		Help: "Total record merges applied by source",
	}, []string{"source"})

	// StaleOutcomes counts outcomes discarded because their flight was
	// removed mid-cycle.
	StaleOutcomes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flighttrack_stale_outcomes_total",
		Help: "Outcomes discarded for flights removed mid-cycle",
	})
)

// Serve starts a debug HTTP listener exposing /metrics on addr. It returns
// immediately; failures are logged, not fatal, because metrics are a
// best-effort side channel for a terminal app.
func Serve(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	return srv
}
