package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/skywatch/flighttrack/internal/cache"
	"github.com/skywatch/flighttrack/internal/fetch"
	"github.com/skywatch/flighttrack/internal/history"
	"github.com/skywatch/flighttrack/internal/metrics"
	"github.com/skywatch/flighttrack/internal/provider"
	"github.com/skywatch/flighttrack/internal/track"
	"github.com/skywatch/flighttrack/pkg/models"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds application configuration.
type Config struct {
	// AviationStack (schedule source). Optional; without a key the app
	// runs position-only.
	AviationStackAPIKey string

	// OpenSky - OAuth2 (preferred)
	OpenSkyClientID     string
	OpenSkyClientSecret string

	// OpenSky - Basic Auth (legacy, deprecated)
	OpenSkyUsername string
	OpenSkyPassword string

	// Refresh machinery
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	FetchWorkers    int

	// Cache TTLs
	PositionTTL time.Duration
	ScheduleTTL time.Duration

	// Persistence
	HistoryFile      string
	ScheduleSnapshot string

	// Observability
	MetricsAddr string
	LogLevel    string
}

func loadConfig() Config {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := Config{
		AviationStackAPIKey: getEnv("AVIATIONSTACK_API_KEY", ""),
		OpenSkyClientID:     getEnv("OPENSKY_CLIENT_ID", ""),
		OpenSkyClientSecret: getEnv("OPENSKY_CLIENT_SECRET", ""),
		OpenSkyUsername:     getEnv("OPENSKY_USERNAME", ""),
		OpenSkyPassword:     getEnv("OPENSKY_PASSWORD", ""),
		RefreshInterval:     getEnvDuration("REFRESH_INTERVAL", 30*time.Second),
		FetchTimeout:        getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
		FetchWorkers:        getEnvInt("FETCH_WORKERS", 8),
		PositionTTL:         getEnvDuration("POSITION_CACHE_TTL", 10*time.Second),
		ScheduleTTL:         getEnvDuration("SCHEDULE_CACHE_TTL", time.Hour),
		HistoryFile:         getEnv("HISTORY_FILE", ""),
		ScheduleSnapshot:    getEnv("SCHEDULE_SNAPSHOT", ""),
		MetricsAddr:         getEnv("METRICS_ADDR", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if cfg.HistoryFile == "" {
		if p, err := history.DefaultPath(); err == nil {
			cfg.HistoryFile = p
		}
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

// App wires the fetchers, orchestrator, history and command loop together.
type App struct {
	cfg Config
	log zerolog.Logger

	orch       *track.Orchestrator
	history    *history.Store
	schedCache *cache.Cache[string, *models.ScheduleRecord]
	posCache   *cache.Cache[string, *models.PositionRecord]
}

// NewApp builds the application from configuration. A missing schedule API
// key degrades to position-only mode rather than failing startup.
func NewApp(cfg Config, log zerolog.Logger) *App {
	var openSkyOpts []provider.OpenSkyOption
	switch {
	case cfg.OpenSkyClientID != "" && cfg.OpenSkyClientSecret != "":
		openSkyOpts = append(openSkyOpts, provider.WithClientCredentials(cfg.OpenSkyClientID, cfg.OpenSkyClientSecret))
		log.Info().Str("client_id", cfg.OpenSkyClientID).Msg("opensky auth: oauth2 client credentials")
	case cfg.OpenSkyUsername != "":
		openSkyOpts = append(openSkyOpts, provider.WithBasicAuth(cfg.OpenSkyUsername, cfg.OpenSkyPassword))
		log.Info().Str("username", cfg.OpenSkyUsername).Msg("opensky auth: basic auth (legacy)")
	default:
		log.Info().Msg("opensky auth: anonymous (heavily rate limited)")
	}

	posCache := cache.New[string, *models.PositionRecord](cfg.PositionTTL)
	schedCache := cache.New[string, *models.ScheduleRecord](cfg.ScheduleTTL)

	if cfg.ScheduleSnapshot != "" {
		if err := cache.LoadFile(schedCache, cfg.ScheduleSnapshot); err != nil {
			log.Warn().Err(err).Msg("could not load schedule snapshot")
		} else if n := schedCache.Len(); n > 0 {
			log.Info().Int("entries", n).Msg("loaded schedule snapshot")
		}
	}

	positions := fetch.NewPositionFetcher(
		provider.NewOpenSkyClient(openSkyOpts...), posCache, cfg.FetchTimeout, log)

	var schedules *fetch.ScheduleFetcher
	if asClient, err := provider.NewAviationStackClient(cfg.AviationStackAPIKey); err != nil {
		log.Warn().Err(err).Msg("schedule source unavailable, running position-only")
	} else {
		schedules = fetch.NewScheduleFetcher(asClient, schedCache, cfg.FetchTimeout, log)
	}

	orch := track.NewOrchestrator(positions, schedules, track.Config{
		Interval: cfg.RefreshInterval,
		Workers:  cfg.FetchWorkers,
		Logger:   log,
	})

	return &App{
		cfg:        cfg,
		log:        log,
		orch:       orch,
		history:    history.Open(cfg.HistoryFile, log),
		schedCache: schedCache,
		posCache:   posCache,
	}
}

// Run starts the background machinery and drives the command loop until ctx
// is cancelled or the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.orch.Run(ctx)
	a.posCache.StartSweeper(ctx, a.cfg.PositionTTL)
	a.schedCache.StartSweeper(ctx, a.cfg.ScheduleTTL)

	var metricsSrv interface{ Close() error }
	if a.cfg.MetricsAddr != "" {
		metricsSrv = metrics.Serve(a.cfg.MetricsAddr, a.log)
	}

	a.log.Info().
		Dur("refresh_interval", a.cfg.RefreshInterval).
		Int("workers", a.cfg.FetchWorkers).
		Msg("flighttrack ready")
	fmt.Println("flighttrack. Commands: add <flight>, rm <flight>, ls, next, prev, r, history, quit")

	lines := readLines(ctx)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if quit := a.dispatch(ctx, line); quit {
				break loop
			}
		}
	}

	a.log.Info().Msg("shutting down")
	cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	return a.Shutdown()
}

// Shutdown persists session state.
func (a *App) Shutdown() error {
	if a.cfg.ScheduleSnapshot != "" {
		if err := cache.SaveFile(a.schedCache, a.cfg.ScheduleSnapshot); err != nil {
			a.log.Warn().Err(err).Msg("could not save schedule snapshot")
		}
	}

	// Remember routes for the flights still tracked at exit.
	for _, f := range a.orch.Snapshot().Flights {
		a.history.Record(f.FlightNumber, f.Route())
	}
	if err := a.history.Save(); err != nil {
		a.log.Warn().Err(err).Msg("could not save history")
	}

	a.log.Info().Msg("flighttrack stopped")
	return nil
}

// readLines feeds stdin lines over a channel so the main loop can also
// honor ctx cancellation.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// dispatch executes one user command. Returns true when the user quits.
func (a *App) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "add", "track":
		if len(args) == 0 {
			fmt.Println("usage: add <flight number>")
			return false
		}
		fn := strings.Join(args, "")
		if err := a.orch.Track(ctx, fn); err != nil {
			fmt.Printf("cannot track %s: %v\n", fn, err)
			return false
		}
		a.history.Record(track.CanonicalFlightNumber(fn), "")
		fmt.Printf("tracking %s\n", track.CanonicalFlightNumber(fn))

	case "rm", "untrack":
		if len(args) == 0 {
			fmt.Println("usage: rm <flight number>")
			return false
		}
		fn := strings.Join(args, "")
		if f, ok := findFlight(a.orch.Snapshot(), fn); ok {
			a.history.Record(f.FlightNumber, f.Route())
		}
		if err := a.orch.Untrack(ctx, fn); err != nil {
			fmt.Printf("cannot remove %s: %v\n", fn, err)
			return false
		}
		fmt.Printf("removed %s\n", track.CanonicalFlightNumber(fn))

	case "ls", "list":
		printFlights(a.orch.Snapshot())

	case "next", "n":
		_ = a.orch.SelectNext(ctx)
		printSelected(a.orch.Snapshot())

	case "prev", "p":
		_ = a.orch.SelectPrevious(ctx)
		printSelected(a.orch.Snapshot())

	case "r", "refresh":
		if err := a.orch.RefreshNow(ctx); err == nil {
			fmt.Println("refreshing")
		}

	case "history":
		for _, e := range a.history.Recent() {
			if e.Route != "" {
				fmt.Printf("  %-8s %s\n", e.FlightNumber, e.Route)
			} else {
				fmt.Printf("  %s\n", e.FlightNumber)
			}
		}

	case "help", "?":
		fmt.Println("commands: add <flight>, rm <flight>, ls, next, prev, r, history, quit")

	case "quit", "q", "exit":
		return true

	default:
		fmt.Printf("unknown command %q (try help)\n", cmd)
	}
	return false
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func findFlight(snap track.Snapshot, flightNumber string) (*models.Flight, bool) {
	fn := track.CanonicalFlightNumber(flightNumber)
	for i := range snap.Flights {
		if snap.Flights[i].FlightNumber == fn {
			return &snap.Flights[i], true
		}
	}
	return nil, false
}

func printFlights(snap track.Snapshot) {
	if len(snap.Flights) == 0 {
		fmt.Println("no flights tracked")
		return
	}
	if snap.PositionOnly {
		fmt.Println("(position-only mode: schedule source unavailable)")
	}
	for i, f := range snap.Flights {
		marker := "  "
		if i == snap.SelectedIdx {
			marker = "> "
		}
		fmt.Printf("%s%-8s %-10s %s\n", marker, f.FlightNumber, f.Status, flightLine(&f))
	}
	if snap.Refreshing {
		fmt.Println("(refreshing...)")
	}
}

func printSelected(snap track.Snapshot) {
	f := snap.Selected()
	if f == nil {
		fmt.Println("no flights tracked")
		return
	}
	fmt.Printf("> %-8s %-10s %s\n", f.FlightNumber, f.Status, flightLine(f))
}

// flightLine formats the interesting parts of one flight, annotating each
// source's staleness.
func flightLine(f *models.Flight) string {
	var parts []string

	if route := f.Route(); route != "" {
		parts = append(parts, route)
	}
	if f.Airline != nil {
		parts = append(parts, *f.Airline)
	}
	if f.HasPosition() {
		parts = append(parts, fmt.Sprintf("%.3f,%.3f", *f.Latitude, *f.Longitude))
	}
	if f.AltitudeFt != nil {
		parts = append(parts, fmt.Sprintf("%.0f ft", *f.AltitudeFt))
	}
	if f.GroundSpeedKts != nil {
		parts = append(parts, fmt.Sprintf("%.0f kts", *f.GroundSpeedKts))
	}
	if f.OnGround {
		parts = append(parts, "on ground")
	}
	if f.PositionState == models.SourceStale {
		parts = append(parts, "[position stale]")
	}
	if f.ScheduleState == models.SourceStale {
		parts = append(parts, "[schedule stale]")
	}
	if len(parts) == 0 {
		parts = append(parts, "no data yet")
	}
	return strings.Join(parts, "  ")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	log := newLogger(cfg.LogLevel)

	app := NewApp(cfg, log)
	if err := app.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}
