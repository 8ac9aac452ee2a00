// Package fetch fronts the upstream provider clients with per-source TTL
// caches. A fetch consults the cache, falls through to the provider under a
// bounded timeout, and caches successes only. Failures are never cached, so
// the next attempt retries upstream. Rate-limit failures additionally arm a
// cooldown for the whole source so a capped quota is not hammered.
package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skywatch/flighttrack/internal/cache"
	"github.com/skywatch/flighttrack/internal/metrics"
	"github.com/skywatch/flighttrack/internal/provider"
	"github.com/skywatch/flighttrack/pkg/models"
)

// Source identifies which upstream a fetch or outcome belongs to.
type Source int

const (
	SourcePosition Source = iota
	SourceSchedule
)

func (s Source) String() string {
	if s == SourceSchedule {
		return "schedule"
	}
	return "position"
}

// Status tags how an outcome was produced.
type Status int

const (
	StatusFresh    Status = iota // fetched upstream and cached
	StatusCacheHit               // served from cache
	StatusFailed                 // typed failure, see Err
)

// Outcome is the result of one (flight, source) fetch. Failed outcomes are
// never discarded silently; the orchestrator surfaces them as per-source
// staleness on the flight.
type Outcome struct {
	FlightNumber string
	Source       Source
	Status       Status
	Position     *models.PositionRecord
	Schedule     *models.ScheduleRecord
	Err          error
}

// cooldown suppresses upstream calls for a source after a rate-limit signal,
// until the source's cache TTL would have elapsed anyway.
type cooldown struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func (c *cooldown) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.until)
}

func (c *cooldown) arm(d time.Duration) {
	c.mu.Lock()
	c.until = c.now().Add(d)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Position Fetcher
// ---------------------------------------------------------------------------

// PositionClient is the upstream position provider surface.
type PositionClient interface {
	LookupPosition(ctx context.Context, icaoCallsign string) (*models.PositionRecord, error)
	LookupByICAO24(ctx context.Context, icao24 string) (*models.PositionRecord, error)
}

// PositionFetcher serves position records through a short-TTL cache keyed by
// callsign or transponder address.
type PositionFetcher struct {
	client   PositionClient
	cache    *cache.Cache[string, *models.PositionRecord]
	timeout  time.Duration
	cooldown cooldown
	log      zerolog.Logger
}

// NewPositionFetcher wraps client with the given cache. The cache instance
// is owned by the caller so tests stay hermetic.
func NewPositionFetcher(client PositionClient, c *cache.Cache[string, *models.PositionRecord], timeout time.Duration, log zerolog.Logger) *PositionFetcher {
	return &PositionFetcher{
		client:   client,
		cache:    c,
		timeout:  timeout,
		cooldown: cooldown{now: time.Now},
		log:      log.With().Str("component", "position-fetcher").Logger(),
	}
}

// ByCallsign fetches the position for an ICAO callsign ("UAL100").
func (f *PositionFetcher) ByCallsign(ctx context.Context, icaoCallsign string) (*models.PositionRecord, Status, error) {
	key := strings.ToUpper(strings.TrimSpace(icaoCallsign))
	return f.fetch(ctx, key, func(ctx context.Context) (*models.PositionRecord, error) {
		return f.client.LookupPosition(ctx, key)
	})
}

// ByICAO24 fetches the position for a known transponder address.
func (f *PositionFetcher) ByICAO24(ctx context.Context, icao24 string) (*models.PositionRecord, Status, error) {
	key := strings.ToLower(strings.TrimSpace(icao24))
	return f.fetch(ctx, key, func(ctx context.Context) (*models.PositionRecord, error) {
		return f.client.LookupByICAO24(ctx, key)
	})
}

func (f *PositionFetcher) fetch(ctx context.Context, key string, lookup func(context.Context) (*models.PositionRecord, error)) (*models.PositionRecord, Status, error) {
	if rec, ok := f.cache.Get(key); ok {
		metrics.FetchTotal.WithLabelValues("position", "cache_hit").Inc()
		return rec, StatusCacheHit, nil
	}

	if f.cooldown.active() {
		metrics.FetchTotal.WithLabelValues("position", "rate_limited").Inc()
		return nil, StatusFailed, provider.RateLimited("opensky")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	rec, err := lookup(ctx)
	metrics.UpstreamLatency.WithLabelValues("position").Observe(time.Since(start).Seconds())

	if err != nil {
		kind := provider.KindOf(err)
		if kind == provider.KindRateLimited {
			f.cooldown.arm(f.cache.TTL())
			f.log.Warn().Str("key", key).Msg("position source rate limited, cooling down")
		}
		metrics.FetchTotal.WithLabelValues("position", kindLabel(kind)).Inc()
		return nil, StatusFailed, err
	}

	f.cache.Put(key, rec)
	metrics.FetchTotal.WithLabelValues("position", "fresh").Inc()
	metrics.CacheEntries.WithLabelValues("position").Set(float64(f.cache.Len()))
	return rec, StatusFresh, nil
}

// ---------------------------------------------------------------------------
// Schedule Fetcher
// ---------------------------------------------------------------------------

// ScheduleClient is the upstream schedule provider surface.
type ScheduleClient interface {
	LookupSchedule(ctx context.Context, flightNumber string) (*models.ScheduleRecord, error)
}

// ScheduleFetcher serves schedule records through a long-TTL cache keyed by
// flight number.
type ScheduleFetcher struct {
	client   ScheduleClient
	cache    *cache.Cache[string, *models.ScheduleRecord]
	timeout  time.Duration
	cooldown cooldown
	log      zerolog.Logger
}

// NewScheduleFetcher wraps client with the given cache.
func NewScheduleFetcher(client ScheduleClient, c *cache.Cache[string, *models.ScheduleRecord], timeout time.Duration, log zerolog.Logger) *ScheduleFetcher {
	return &ScheduleFetcher{
		client:   client,
		cache:    c,
		timeout:  timeout,
		cooldown: cooldown{now: time.Now},
		log:      log.With().Str("component", "schedule-fetcher").Logger(),
	}
}

// ByFlightNumber fetches schedule data for an IATA flight number ("UA100").
func (f *ScheduleFetcher) ByFlightNumber(ctx context.Context, flightNumber string) (*models.ScheduleRecord, Status, error) {
	key := strings.ToUpper(strings.TrimSpace(flightNumber))

	if rec, ok := f.cache.Get(key); ok {
		metrics.FetchTotal.WithLabelValues("schedule", "cache_hit").Inc()
		return rec, StatusCacheHit, nil
	}

	if f.cooldown.active() {
		metrics.FetchTotal.WithLabelValues("schedule", "rate_limited").Inc()
		return nil, StatusFailed, provider.RateLimited("aviationstack")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	rec, err := f.client.LookupSchedule(ctx, key)
	metrics.UpstreamLatency.WithLabelValues("schedule").Observe(time.Since(start).Seconds())

	if err != nil {
		kind := provider.KindOf(err)
		if kind == provider.KindRateLimited {
			f.cooldown.arm(f.cache.TTL())
			f.log.Warn().Str("key", key).Msg("schedule source rate limited, cooling down")
		}
		metrics.FetchTotal.WithLabelValues("schedule", kindLabel(kind)).Inc()
		return nil, StatusFailed, err
	}

	f.cache.Put(key, rec)
	metrics.FetchTotal.WithLabelValues("schedule", "fresh").Inc()
	metrics.CacheEntries.WithLabelValues("schedule").Set(float64(f.cache.Len()))
	return rec, StatusFresh, nil
}

func kindLabel(k provider.Kind) string {
	switch k {
	case provider.KindNotFound:
		return "not_found"
	case provider.KindRateLimited:
		return "rate_limited"
	case provider.KindConfig:
		return "config_error"
	default:
		return "unavailable"
	}
}
