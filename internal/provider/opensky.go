package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/skywatch/flighttrack/pkg/models"
)

const (
	openSkySource = "opensky"

	defaultOpenSkyBaseURL = "https://opensky-network.org/api"

	// OpenSky OAuth2 token endpoint (client-credentials flow). Basic auth
	// still works but is deprecated by the provider.
	defaultTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// Refresh tokens before their actual expiry.
	tokenRefreshBuffer = 2 * time.Minute

	// Connection pool settings.
	maxIdleConns        = 10
	maxConnsPerHost     = 5
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// ---------------------------------------------------------------------------
// OAuth2 Token Management
// ---------------------------------------------------------------------------

// tokenResponse mirrors the JSON from the OpenSky token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // seconds
	TokenType   string `json:"token_type"`
}

// TokenManager handles OAuth2 client-credentials token lifecycle.
type TokenManager struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenManager creates a token manager for the client-credentials flow.
func NewTokenManager(clientID, clientSecret string) *TokenManager {
	return &TokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     defaultTokenURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns a valid access token, refreshing if needed.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.RLock()
	if tm.token != "" && time.Now().Before(tm.expiresAt) {
		tok := tm.token
		tm.mu.RUnlock()
		return tok, nil
	}
	tm.mu.RUnlock()

	return tm.refresh(ctx)
}

func (tm *TokenManager) refresh(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock.
	if tm.token != "" && time.Now().Before(tm.expiresAt) {
		return tm.token, nil
	}

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tm.clientID},
		"client_secret": {tm.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	tm.token = tokResp.AccessToken
	tm.expiresAt = time.Now().Add(time.Duration(tokResp.ExpiresIn)*time.Second - tokenRefreshBuffer)

	return tm.token, nil
}

// ---------------------------------------------------------------------------
// OpenSky Client
// ---------------------------------------------------------------------------

// OpenSkyOption configures the OpenSky client.
type OpenSkyOption func(*OpenSkyClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) OpenSkyOption {
	return func(c *OpenSkyClient) { c.httpClient = hc }
}

// WithBaseURL overrides the API endpoint (useful for testing).
func WithBaseURL(url string) OpenSkyOption {
	return func(c *OpenSkyClient) { c.baseURL = url }
}

// WithBasicAuth sets Basic Auth credentials (legacy, deprecated by OpenSky).
func WithBasicAuth(username, password string) OpenSkyOption {
	return func(c *OpenSkyClient) {
		c.username = username
		c.password = password
	}
}

// WithClientCredentials sets OAuth2 client credentials for token-based auth.
func WithClientCredentials(clientID, clientSecret string) OpenSkyOption {
	return func(c *OpenSkyClient) {
		c.tokenManager = NewTokenManager(clientID, clientSecret)
	}
}

// WithTokenManager sets a custom token manager (useful for testing).
func WithTokenManager(tm *TokenManager) OpenSkyOption {
	return func(c *OpenSkyClient) { c.tokenManager = tm }
}

// OpenSkyClient fetches live state vectors from the OpenSky Network API.
// Anonymous access works but is held to a small daily request quota by the
// provider.
type OpenSkyClient struct {
	baseURL      string
	httpClient   *http.Client
	username     string
	password     string
	tokenManager *TokenManager
}

// NewOpenSkyClient creates an OpenSky API client with connection pooling.
func NewOpenSkyClient(opts ...OpenSkyOption) *OpenSkyClient {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	c := &OpenSkyClient{
		baseURL: defaultOpenSkyBaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// openSkyResponse mirrors the JSON shape returned by /states/all. Each state
// is a positional 17-element array.
type openSkyResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// LookupPosition returns the current state vector whose callsign starts with
// the given ICAO callsign ("UAL100"). A flight unknown to the provider is a
// KindNotFound error, never an empty record.
func (c *OpenSkyClient) LookupPosition(ctx context.Context, icaoCallsign string) (*models.PositionRecord, error) {
	raw, err := c.fetchStates(ctx, "")
	if err != nil {
		return nil, err
	}

	want := strings.ToUpper(strings.TrimSpace(icaoCallsign))
	for _, s := range raw.States {
		rec, ok := parseState(s, raw.Time)
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(rec.Callsign), want) {
			return rec, nil
		}
	}

	return nil, NotFound(openSkySource)
}

// LookupByICAO24 returns the state vector for one transponder address. Used
// on refresh once the aircraft is known, which is much cheaper for the
// provider than scanning the whole board.
func (c *OpenSkyClient) LookupByICAO24(ctx context.Context, icao24 string) (*models.PositionRecord, error) {
	raw, err := c.fetchStates(ctx, strings.ToLower(icao24))
	if err != nil {
		return nil, err
	}

	for _, s := range raw.States {
		if rec, ok := parseState(s, raw.Time); ok {
			return rec, nil
		}
	}

	return nil, NotFound(openSkySource)
}

func (c *OpenSkyClient) fetchStates(ctx context.Context, icao24 string) (*openSkyResponse, error) {
	u := fmt.Sprintf("%s/states/all", c.baseURL)
	if icao24 != "" {
		u = fmt.Sprintf("%s?icao24=%s", u, url.QueryEscape(icao24))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Unavailable(openSkySource, fmt.Errorf("creating request: %w", err))
	}

	// Prefer OAuth2 Bearer token, fall back to Basic Auth (legacy).
	if c.tokenManager != nil {
		token, err := c.tokenManager.Token(ctx)
		if err != nil {
			return nil, Unavailable(openSkySource, fmt.Errorf("obtaining access token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable(openSkySource, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, RateLimited(openSkySource)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Unavailable(openSkySource, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var raw openSkyResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, Unavailable(openSkySource, fmt.Errorf("parsing response: %w", err))
	}

	return &raw, nil
}

// parseState converts one positional state array into a PositionRecord.
// Missing or malformed elements become nil fields; a state without a
// transponder address is unusable and rejected.
func parseState(s []interface{}, responseTime int64) (*models.PositionRecord, bool) {
	if len(s) < 12 {
		return nil, false
	}

	icao24 := stringVal(s[0])
	if icao24 == "" {
		return nil, false
	}

	rec := &models.PositionRecord{
		ICAO24:        icao24,
		Callsign:      strings.TrimSpace(stringVal(s[1])),
		OriginCountry: stringVal(s[2]),
		Longitude:     floatPtr(s[5]),
		Latitude:      floatPtr(s[6]),
		BaroAltitudeM: floatPtr(s[7]),
		OnGround:      boolVal(s[8]),
		VelocityMPS:   floatPtr(s[9]),
		TrueTrack:     floatPtr(s[10]),
		VerticalRate:  floatPtr(s[11]),
	}

	if v, ok := s[4].(float64); ok {
		rec.LastContact = time.Unix(int64(v), 0)
	} else {
		rec.LastContact = time.Unix(responseTime, 0)
	}
	if v, ok := s[3].(float64); ok {
		t := time.Unix(int64(v), 0)
		rec.TimePosition = &t
	}
	if len(s) >= 15 {
		if sq := stringVal(s[14]); sq != "" {
			rec.Squawk = &sq
		}
	}

	return rec, true
}

func stringVal(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func floatPtr(v interface{}) *float64 {
	if f, ok := v.(float64); ok {
		return &f
	}
	return nil
}

func boolVal(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
