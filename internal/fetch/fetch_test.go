package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywatch/flighttrack/internal/cache"
	"github.com/skywatch/flighttrack/internal/provider"
	"github.com/skywatch/flighttrack/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stubPositionClient struct {
	mu    sync.Mutex
	calls int
	rec   *models.PositionRecord
	err   error
}

func (s *stubPositionClient) lookup() (*models.PositionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

func (s *stubPositionClient) LookupPosition(_ context.Context, _ string) (*models.PositionRecord, error) {
	return s.lookup()
}

func (s *stubPositionClient) LookupByICAO24(_ context.Context, _ string) (*models.PositionRecord, error) {
	return s.lookup()
}

func (s *stubPositionClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubPositionClient) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type stubScheduleClient struct {
	mu    sync.Mutex
	calls int
	rec   *models.ScheduleRecord
	err   error
}

func (s *stubScheduleClient) LookupSchedule(_ context.Context, _ string) (*models.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

func (s *stubScheduleClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubScheduleClient) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func testPositionRecord() *models.PositionRecord {
	lat, lon := 37.7, -122.4
	return &models.PositionRecord{
		ICAO24:    "a1b2c3",
		Callsign:  "UAL100",
		Latitude:  &lat,
		Longitude: &lon,
	}
}

func TestPositionByCallsignCachesResult(t *testing.T) {
	client := &stubPositionClient{rec: testPositionRecord()}
	c := cache.New[string, *models.PositionRecord](10 * time.Second)
	f := NewPositionFetcher(client, c, time.Second, zerolog.Nop())

	rec, status, err := f.ByCallsign(context.Background(), "ual100")
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, status)
	assert.Equal(t, "a1b2c3", rec.ICAO24)

	rec, status, err = f.ByCallsign(context.Background(), "UAL100")
	require.NoError(t, err)
	assert.Equal(t, StatusCacheHit, status)
	assert.Equal(t, "a1b2c3", rec.ICAO24)

	assert.Equal(t, 1, client.callCount())
}

func TestPositionByICAO24SeparateKey(t *testing.T) {
	client := &stubPositionClient{rec: testPositionRecord()}
	c := cache.New[string, *models.PositionRecord](10 * time.Second)
	f := NewPositionFetcher(client, c, time.Second, zerolog.Nop())

	_, _, err := f.ByCallsign(context.Background(), "UAL100")
	require.NoError(t, err)

	_, status, err := f.ByICAO24(context.Background(), "A1B2C3")
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, status)
	assert.Equal(t, 2, client.callCount())
	assert.Equal(t, 2, c.Len())
}

func TestPositionFailureNotCached(t *testing.T) {
	client := &stubPositionClient{rec: testPositionRecord()}
	client.setErr(provider.Unavailable("opensky", context.DeadlineExceeded))
	c := cache.New[string, *models.PositionRecord](10 * time.Second)
	f := NewPositionFetcher(client, c, time.Second, zerolog.Nop())

	_, status, err := f.ByCallsign(context.Background(), "UAL100")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.True(t, c.IsEmpty())

	// Next attempt goes upstream again and succeeds.
	client.setErr(nil)
	_, status, err = f.ByCallsign(context.Background(), "UAL100")
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, status)
	assert.Equal(t, 2, client.callCount())
}

func TestPositionNotFoundNotCached(t *testing.T) {
	client := &stubPositionClient{}
	client.setErr(provider.NotFound("opensky"))
	c := cache.New[string, *models.PositionRecord](10 * time.Second)
	f := NewPositionFetcher(client, c, time.Second, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, _, err := f.ByCallsign(context.Background(), "ZZZ999")
		require.Error(t, err)
		assert.Equal(t, provider.KindNotFound, provider.KindOf(err))
	}
	assert.Equal(t, 3, client.callCount())
	assert.True(t, c.IsEmpty())
}

func TestPositionRateLimitArmsCooldown(t *testing.T) {
	clock := newFakeClock()
	client := &stubPositionClient{rec: testPositionRecord()}
	client.setErr(provider.RateLimited("opensky"))
	c := cache.New[string, *models.PositionRecord](10 * time.Second)
	f := NewPositionFetcher(client, c, time.Second, zerolog.Nop())
	f.cooldown.now = clock.Now

	_, _, err := f.ByCallsign(context.Background(), "UAL100")
	require.Error(t, err)
	assert.Equal(t, provider.KindRateLimited, provider.KindOf(err))
	assert.Equal(t, 1, client.callCount())

	// During cooldown the upstream is not touched.
	client.setErr(nil)
	_, status, err := f.ByCallsign(context.Background(), "UAL100")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, provider.KindRateLimited, provider.KindOf(err))
	assert.Equal(t, 1, client.callCount())

	// Once the cooldown (one cache TTL) elapses, fetches resume.
	clock.Advance(10 * time.Second)
	_, status, err = f.ByCallsign(context.Background(), "UAL100")
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, status)
	assert.Equal(t, 2, client.callCount())
}

func TestScheduleCachesResult(t *testing.T) {
	status := "active"
	client := &stubScheduleClient{rec: &models.ScheduleRecord{FlightStatus: &status}}
	c := cache.New[string, *models.ScheduleRecord](time.Hour)
	f := NewScheduleFetcher(client, c, time.Second, zerolog.Nop())

	rec, st, err := f.ByFlightNumber(context.Background(), "ua 100")
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, st)
	assert.Equal(t, "active", *rec.FlightStatus)

	_, st, err = f.ByFlightNumber(context.Background(), "UA100")
	require.NoError(t, err)
	assert.Equal(t, StatusCacheHit, st)
	assert.Equal(t, 1, client.callCount())
}

func TestScheduleRateLimitArmsCooldown(t *testing.T) {
	clock := newFakeClock()
	client := &stubScheduleClient{}
	client.setErr(provider.RateLimited("aviationstack"))
	c := cache.New[string, *models.ScheduleRecord](time.Hour)
	f := NewScheduleFetcher(client, c, time.Second, zerolog.Nop())
	f.cooldown.now = clock.Now

	_, _, err := f.ByFlightNumber(context.Background(), "UA100")
	require.Error(t, err)

	// A different flight number is also held back; the quota is per source.
	_, _, err = f.ByFlightNumber(context.Background(), "BA285")
	require.Error(t, err)
	assert.Equal(t, provider.KindRateLimited, provider.KindOf(err))
	assert.Equal(t, 1, client.callCount())

	clock.Advance(time.Hour)
	active := "active"
	client.setErr(nil)
	client.rec = &models.ScheduleRecord{FlightStatus: &active}
	_, st, err := f.ByFlightNumber(context.Background(), "BA285")
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, st)
}

func TestScheduleFailureNotCached(t *testing.T) {
	client := &stubScheduleClient{}
	client.setErr(provider.Unavailable("aviationstack", context.DeadlineExceeded))
	c := cache.New[string, *models.ScheduleRecord](time.Hour)
	f := NewScheduleFetcher(client, c, time.Second, zerolog.Nop())

	_, _, err := f.ByFlightNumber(context.Background(), "UA100")
	require.Error(t, err)
	assert.True(t, c.IsEmpty())

	active := "landed"
	client.setErr(nil)
	client.rec = &models.ScheduleRecord{FlightStatus: &active}
	rec, st, err := f.ByFlightNumber(context.Background(), "UA100")
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, st)
	assert.Equal(t, "landed", *rec.FlightStatus)
	assert.Equal(t, 2, client.callCount())
}
