package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scheduleBody = `{
  "data": [
    {
      "flight_status": "active",
      "departure": {
        "airport": "San Francisco International",
        "iata": "SFO",
        "icao": "KSFO",
        "scheduled": "2024-03-01T08:30:00+00:00",
        "estimated": "2024-03-01T08:30:00+00:00",
        "actual": "2024-03-01T08:42:00+00:00",
        "delay": 12
      },
      "arrival": {
        "airport": "Heathrow",
        "iata": "LHR",
        "icao": "EGLL",
        "scheduled": "2024-03-02T04:45:00+00:00",
        "estimated": "2024-03-02T04:52:00+00:00",
        "actual": null,
        "delay": null
      },
      "airline": {"name": "United Airlines", "iata": "UA"},
      "aircraft": {"registration": "N26952", "iata": "B789", "icao": "B789"}
    }
  ]
}`

func TestLookupSchedule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/flights", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("access_key"))
		assert.Equal(t, "UA100", r.URL.Query().Get("flight_iata"))
		w.Write([]byte(scheduleBody))
	}))
	defer srv.Close()

	client, err := NewAviationStackClient("test-key", WithScheduleBaseURL(srv.URL))
	require.NoError(t, err)

	rec, err := client.LookupSchedule(context.Background(), "ua 100")
	require.NoError(t, err)

	require.NotNil(t, rec.FlightStatus)
	assert.Equal(t, "active", *rec.FlightStatus)
	require.NotNil(t, rec.Airline)
	assert.Equal(t, "United Airlines", *rec.Airline)
	require.NotNil(t, rec.AircraftType)
	assert.Equal(t, "B789", *rec.AircraftType)

	require.NotNil(t, rec.Departure)
	assert.Equal(t, "SFO", *rec.Departure.IATA)
	require.NotNil(t, rec.Departure.Actual)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 42, 0, 0, time.UTC), rec.Departure.Actual.UTC())
	require.NotNil(t, rec.Departure.DelayMin)
	assert.Equal(t, 12, *rec.Departure.DelayMin)

	require.NotNil(t, rec.Arrival)
	assert.Nil(t, rec.Arrival.Actual)
	assert.Nil(t, rec.Arrival.DelayMin)
}

func TestLookupScheduleNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	client, err := NewAviationStackClient("test-key", WithScheduleBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.LookupSchedule(context.Background(), "ZZ999")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestLookupScheduleRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewAviationStackClient("test-key", WithScheduleBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.LookupSchedule(context.Background(), "UA100")
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestLookupScheduleQuotaBody(t *testing.T) {
	// The provider reports quota exhaustion in a 200 body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": "usage_limit_reached", "message": "monthly quota exceeded"}}`))
	}))
	defer srv.Close()

	client, err := NewAviationStackClient("test-key", WithScheduleBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.LookupSchedule(context.Background(), "UA100")
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestLookupScheduleProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": "invalid_access_key", "message": "bad key"}}`))
	}))
	defer srv.Close()

	client, err := NewAviationStackClient("test-key", WithScheduleBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.LookupSchedule(context.Background(), "UA100")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "invalid_access_key")
}

func TestNewAviationStackClientMissingKey(t *testing.T) {
	_, err := NewAviationStackClient("")
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}
