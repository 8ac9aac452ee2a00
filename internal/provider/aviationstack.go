package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skywatch/flighttrack/pkg/models"
)

const (
	aviationStackSource = "aviationstack"

	defaultAviationStackBaseURL = "http://api.aviationstack.com/v1"
)

// ---------------------------------------------------------------------------
// AviationStack Client
// ---------------------------------------------------------------------------

// AviationStackOption configures the AviationStack client.
type AviationStackOption func(*AviationStackClient)

// WithScheduleHTTPClient sets a custom HTTP client.
func WithScheduleHTTPClient(hc *http.Client) AviationStackOption {
	return func(c *AviationStackClient) { c.httpClient = hc }
}

// WithScheduleBaseURL overrides the API endpoint (useful for testing).
func WithScheduleBaseURL(url string) AviationStackOption {
	return func(c *AviationStackClient) { c.baseURL = url }
}

// AviationStackClient fetches schedule and route data from the
// AviationStack API. The free tier is limited to a small monthly quota, so
// callers front this client with a long-TTL cache.
type AviationStackClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// NewAviationStackClient creates a schedule client. A missing API key is a
// configuration error detected here, before any fetch is attempted. The
// caller is expected to fall back to position-only mode.
func NewAviationStackClient(apiKey string, opts ...AviationStackOption) (*AviationStackClient, error) {
	if apiKey == "" {
		return nil, ConfigError(aviationStackSource, fmt.Errorf("missing API key"))
	}

	c := &AviationStackClient{
		baseURL:    defaultAviationStackBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Wire types. AviationStack reports errors either via HTTP status or as an
// error object in an otherwise-200 body.
type asResponse struct {
	Data  []asFlight `json:"data"`
	Error *asError   `json:"error"`
}

type asError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type asFlight struct {
	FlightStatus *string     `json:"flight_status"`
	Departure    *asStop     `json:"departure"`
	Arrival      *asStop     `json:"arrival"`
	Airline      *asAirline  `json:"airline"`
	Aircraft     *asAircraft `json:"aircraft"`
}

type asStop struct {
	Airport   *string `json:"airport"`
	IATA      *string `json:"iata"`
	ICAO      *string `json:"icao"`
	Scheduled *string `json:"scheduled"`
	Estimated *string `json:"estimated"`
	Actual    *string `json:"actual"`
	Delay     *int    `json:"delay"`
}

type asAirline struct {
	Name *string `json:"name"`
	IATA *string `json:"iata"`
}

type asAircraft struct {
	Registration *string `json:"registration"`
	IATA         *string `json:"iata"`
	ICAO         *string `json:"icao"`
}

// LookupSchedule returns schedule data for an IATA flight number ("UA100").
// A flight the provider does not know is a KindNotFound error.
func (c *AviationStackClient) LookupSchedule(ctx context.Context, flightNumber string) (*models.ScheduleRecord, error) {
	flightIATA := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(flightNumber)), " ", "")

	u := fmt.Sprintf("%s/flights?access_key=%s&flight_iata=%s",
		c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(flightIATA))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Unavailable(aviationStackSource, fmt.Errorf("creating request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable(aviationStackSource, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, RateLimited(aviationStackSource)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Unavailable(aviationStackSource, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var raw asResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, Unavailable(aviationStackSource, fmt.Errorf("parsing response: %w", err))
	}

	if raw.Error != nil {
		if isQuotaError(raw.Error.Code) {
			return nil, RateLimited(aviationStackSource)
		}
		return nil, Unavailable(aviationStackSource,
			fmt.Errorf("provider error %s: %s", raw.Error.Code, raw.Error.Message))
	}

	if len(raw.Data) == 0 {
		return nil, NotFound(aviationStackSource)
	}

	return toScheduleRecord(raw.Data[0]), nil
}

// isQuotaError recognizes AviationStack quota-exhaustion codes that arrive
// in a 200 body rather than as HTTP 429.
func isQuotaError(code string) bool {
	switch code {
	case "usage_limit_reached", "rate_limit_reached", "monthly_limit_reached":
		return true
	}
	return false
}

func toScheduleRecord(f asFlight) *models.ScheduleRecord {
	rec := &models.ScheduleRecord{
		FlightStatus: f.FlightStatus,
		Departure:    toScheduleStop(f.Departure),
		Arrival:      toScheduleStop(f.Arrival),
	}
	if f.Airline != nil {
		rec.Airline = f.Airline.Name
	}
	if f.Aircraft != nil {
		rec.Registration = f.Aircraft.Registration
		if f.Aircraft.IATA != nil {
			rec.AircraftType = f.Aircraft.IATA
		} else {
			rec.AircraftType = f.Aircraft.ICAO
		}
	}
	return rec
}

func toScheduleStop(s *asStop) *models.ScheduleStop {
	if s == nil {
		return nil
	}
	return &models.ScheduleStop{
		Airport:   s.Airport,
		IATA:      s.IATA,
		ICAO:      s.ICAO,
		Scheduled: parseScheduleTime(s.Scheduled),
		Estimated: parseScheduleTime(s.Estimated),
		Actual:    parseScheduleTime(s.Actual),
		DelayMin:  s.Delay,
	}
}

// parseScheduleTime parses AviationStack's ISO-8601 timestamps. Unparseable
// values degrade to nil rather than failing the whole record.
func parseScheduleTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05-07:00",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}
