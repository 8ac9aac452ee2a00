// Package track owns the tracking set and the refresh machinery around it.
//
// A single consumer goroutine owns all mutable state. Commands (track,
// untrack, select, refresh) and fetch outcomes arrive over channels and are
// applied one at a time, so the merge logic never needs a lock. Readers get
// value snapshots published under a read/write mutex.
package track

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skywatch/flighttrack/internal/fetch"
	"github.com/skywatch/flighttrack/internal/metrics"
	"github.com/skywatch/flighttrack/internal/provider"
	"github.com/skywatch/flighttrack/pkg/models"
)

// Snapshot is an immutable view of tracking state for the presentation
// layer. Flights are value copies in display order; their pointer fields
// alias data the consumer loop replaces wholesale and never mutates in
// place, so reading them is safe.
type Snapshot struct {
	Flights      []models.Flight
	SelectedIdx  int
	Refreshing   bool
	PositionOnly bool
	TakenAt      time.Time
}

// Selected returns the selected flight of the snapshot, or nil.
func (s Snapshot) Selected() *models.Flight {
	if len(s.Flights) == 0 || s.SelectedIdx < 0 || s.SelectedIdx >= len(s.Flights) {
		return nil
	}
	return &s.Flights[s.SelectedIdx]
}

type cmdKind int

const (
	cmdTrack cmdKind = iota
	cmdUntrack
	cmdRefresh
	cmdSelectNext
	cmdSelectPrev
)

type command struct {
	kind  cmdKind
	arg   string
	reply chan error
}

// Config carries orchestrator tuning.
type Config struct {
	// Interval between automatic refresh cycles.
	Interval time.Duration
	// Workers bounds concurrent upstream fetches across all flights.
	Workers int
	Logger  zerolog.Logger
}

// Orchestrator drives periodic fetch-and-merge cycles over the tracking set.
// Schedules may be nil, in which case the orchestrator runs position-only
// from the start.
type Orchestrator struct {
	set       *Set
	positions *fetch.PositionFetcher
	schedules *fetch.ScheduleFetcher

	interval time.Duration
	workers  int
	log      zerolog.Logger
	now      func() time.Time

	cmds     chan command
	outcomes chan fetch.Outcome
	sem      chan struct{}

	// pending counts outcomes not yet consumed; the set is refreshing
	// whenever pending > 0. Consumer-loop state, no lock.
	pending      int
	positionOnly bool

	snapMu   sync.RWMutex
	snapshot Snapshot
}

// NewOrchestrator wires an orchestrator around the two fetchers.
func NewOrchestrator(positions *fetch.PositionFetcher, schedules *fetch.ScheduleFetcher, cfg Config) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	o := &Orchestrator{
		set:          NewSet(),
		positions:    positions,
		schedules:    schedules,
		interval:     cfg.Interval,
		workers:      cfg.Workers,
		log:          cfg.Logger.With().Str("component", "orchestrator").Logger(),
		now:          time.Now,
		cmds:         make(chan command),
		outcomes:     make(chan fetch.Outcome, 64),
		sem:          make(chan struct{}, cfg.Workers),
		positionOnly: schedules == nil,
	}
	o.publish()
	return o
}

// Run is the consumer loop. It blocks until ctx is cancelled. All state
// mutation happens here.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.log.Info().
		Dur("interval", o.interval).
		Int("workers", o.workers).
		Bool("position_only", o.positionOnly).
		Msg("orchestrator running")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.startCycle(ctx)
		case cmd := <-o.cmds:
			o.handleCommand(ctx, cmd)
		case out := <-o.outcomes:
			o.handleOutcome(out)
		}
	}
}

// ---------------------------------------------------------------------------
// Public API (channel-backed, safe from any goroutine)
// ---------------------------------------------------------------------------

// Track adds a flight and immediately fetches its data, without waiting for
// the next cycle. Duplicate and invalid flight numbers are rejected.
func (o *Orchestrator) Track(ctx context.Context, flightNumber string) error {
	return o.send(ctx, command{kind: cmdTrack, arg: flightNumber})
}

// Untrack removes a flight. In-flight outcomes for it are discarded when
// they arrive.
func (o *Orchestrator) Untrack(ctx context.Context, flightNumber string) error {
	return o.send(ctx, command{kind: cmdUntrack, arg: flightNumber})
}

// RefreshNow triggers a refresh cycle out of band.
func (o *Orchestrator) RefreshNow(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdRefresh})
}

// SelectNext moves the selection cursor forward, wrapping.
func (o *Orchestrator) SelectNext(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdSelectNext})
}

// SelectPrevious moves the selection cursor back, wrapping.
func (o *Orchestrator) SelectPrevious(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdSelectPrev})
}

// Snapshot returns the latest published view of tracking state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snapshot
}

func (o *Orchestrator) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case o.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Consumer loop internals
// ---------------------------------------------------------------------------

func (o *Orchestrator) handleCommand(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdTrack:
		var f *models.Flight
		f, err = o.set.Add(cmd.arg)
		if err == nil {
			metrics.TrackedFlights.Set(float64(o.set.Len()))
			o.log.Info().Str("flight", f.FlightNumber).Str("callsign", f.ICAOCallsign).Msg("tracking flight")
			o.spawnFetches(ctx, f)
		}
	case cmdUntrack:
		err = o.set.Remove(cmd.arg)
		if err == nil {
			metrics.TrackedFlights.Set(float64(o.set.Len()))
			o.log.Info().Str("flight", CanonicalFlightNumber(cmd.arg)).Msg("untracked flight")
		}
	case cmdRefresh:
		o.startCycle(ctx)
	case cmdSelectNext:
		o.set.SelectNext()
	case cmdSelectPrev:
		o.set.SelectPrevious()
	}
	o.publish()
	cmd.reply <- err
}

// startCycle spawns fetches for every tracked flight. A cycle already in
// flight is left to finish; its outcomes would only be duplicated.
func (o *Orchestrator) startCycle(ctx context.Context) {
	if o.pending > 0 {
		o.log.Debug().Int("pending", o.pending).Msg("refresh already in flight, skipping")
		return
	}
	if o.set.Len() == 0 {
		return
	}

	o.log.Debug().Int("flights", o.set.Len()).Msg("refresh cycle starting")
	for _, f := range o.set.Flights() {
		o.spawnFetches(ctx, f)
	}
	o.publish()
}

// spawnFetches launches the per-source fetch goroutines for one flight,
// bounded by the worker semaphore. Outcomes come back over o.outcomes.
func (o *Orchestrator) spawnFetches(ctx context.Context, f *models.Flight) {
	fn := f.FlightNumber
	icaoCallsign := f.ICAOCallsign
	icao24 := f.ICAO24

	o.pending++
	go func() {
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			o.deliver(ctx, fetch.Outcome{FlightNumber: fn, Source: fetch.SourcePosition, Status: fetch.StatusFailed, Err: ctx.Err()})
			return
		}

		var rec *models.PositionRecord
		var st fetch.Status
		var err error
		if icao24 != "" {
			rec, st, err = o.positions.ByICAO24(ctx, icao24)
		} else {
			rec, st, err = o.positions.ByCallsign(ctx, icaoCallsign)
		}
		o.deliver(ctx, fetch.Outcome{FlightNumber: fn, Source: fetch.SourcePosition, Status: st, Position: rec, Err: err})
	}()

	if o.positionOnly {
		return
	}

	o.pending++
	go func() {
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			o.deliver(ctx, fetch.Outcome{FlightNumber: fn, Source: fetch.SourceSchedule, Status: fetch.StatusFailed, Err: ctx.Err()})
			return
		}

		rec, st, err := o.schedules.ByFlightNumber(ctx, fn)
		o.deliver(ctx, fetch.Outcome{FlightNumber: fn, Source: fetch.SourceSchedule, Status: st, Schedule: rec, Err: err})
	}()
}

func (o *Orchestrator) deliver(ctx context.Context, out fetch.Outcome) {
	select {
	case o.outcomes <- out:
	case <-ctx.Done():
	}
}

// handleOutcome merges one fetch result into the set. Outcomes for flights
// removed mid-cycle are dropped.
func (o *Orchestrator) handleOutcome(out fetch.Outcome) {
	o.pending--
	if o.pending == 0 {
		metrics.RefreshCycles.Inc()
	}

	f, ok := o.set.Get(out.FlightNumber)
	if !ok {
		metrics.StaleOutcomes.Inc()
		o.log.Debug().Str("flight", out.FlightNumber).Msg("dropping outcome for untracked flight")
		o.publish()
		return
	}

	if out.Status == fetch.StatusFailed {
		o.handleFailure(f, out)
		o.publish()
		return
	}

	switch out.Source {
	case fetch.SourcePosition:
		ApplyPosition(f, out.Position, o.now())
	case fetch.SourceSchedule:
		ApplySchedule(f, out.Schedule, o.now())
	}
	o.publish()
}

// handleFailure records a per-source failure on one flight. Failures are
// isolated: the other source and the other flights are untouched. A
// configuration error from the schedule source disables schedule fetching
// for the rest of the session.
func (o *Orchestrator) handleFailure(f *models.Flight, out fetch.Outcome) {
	kind := provider.KindOf(out.Err)
	MarkStale(f, out.Source.String())

	ev := o.log.Warn().
		Str("flight", f.FlightNumber).
		Str("source", out.Source.String()).
		Str("kind", kind.String())
	if !errors.Is(out.Err, context.Canceled) {
		ev.Err(out.Err)
	}
	ev.Msg("fetch failed")

	if out.Source == fetch.SourceSchedule && kind == provider.KindConfig && !o.positionOnly {
		o.positionOnly = true
		o.log.Error().Msg("schedule source misconfigured, continuing position-only")
	}
}

// publish copies the current state into the read snapshot.
func (o *Orchestrator) publish() {
	flights := o.set.Flights()
	selected := o.set.cursor
	if len(flights) == 0 {
		selected = -1
	}
	snap := Snapshot{
		Flights:      make([]models.Flight, len(flights)),
		SelectedIdx:  selected,
		Refreshing:   o.pending > 0,
		PositionOnly: o.positionOnly,
		TakenAt:      o.now(),
	}
	for i, f := range flights {
		snap.Flights[i] = *f
	}

	o.snapMu.Lock()
	o.snapshot = snap
	o.snapMu.Unlock()
}
