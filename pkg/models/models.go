// Package models holds the domain records shared between the provider
// clients, the fetch layer, and the tracking core.
package models

import "time"

// FlightStatus describes where a tracked flight is in its lifecycle.
type FlightStatus int

const (
	StatusUnknown FlightStatus = iota
	StatusScheduled
	StatusEnRoute
	StatusLanded
)

func (s FlightStatus) String() string {
	switch s {
	case StatusScheduled:
		return "Scheduled"
	case StatusEnRoute:
		return "En Route"
	case StatusLanded:
		return "Landed"
	default:
		return "Unknown"
	}
}

// PositionRecord is one validated ADS-B state vector for a single aircraft,
// as returned by the position provider. Fields the provider did not report
// are nil.
type PositionRecord struct {
	ICAO24        string     `json:"icao24"`
	Callsign      string     `json:"callsign"`
	OriginCountry string     `json:"origin_country"`
	Longitude     *float64   `json:"longitude"`
	Latitude      *float64   `json:"latitude"`
	BaroAltitudeM *float64   `json:"baro_altitude"` // meters
	VelocityMPS   *float64   `json:"velocity"`      // m/s
	TrueTrack     *float64   `json:"true_track"`    // degrees
	VerticalRate  *float64   `json:"vertical_rate"` // m/s
	OnGround      bool       `json:"on_ground"`
	Squawk        *string    `json:"squawk"`
	LastContact   time.Time  `json:"last_contact"`
	TimePosition  *time.Time `json:"time_position"`
}

// HasFix reports whether the record carries a usable lat/lon fix.
func (p *PositionRecord) HasFix() bool {
	return p != nil && p.Latitude != nil && p.Longitude != nil
}

// ScheduleStop is one endpoint (departure or arrival) of a scheduled flight.
type ScheduleStop struct {
	Airport   *string    `json:"airport"`
	IATA      *string    `json:"iata"`
	ICAO      *string    `json:"icao"`
	Scheduled *time.Time `json:"scheduled"`
	Estimated *time.Time `json:"estimated"`
	Actual    *time.Time `json:"actual"`
	DelayMin  *int       `json:"delay"`
}

// ScheduleRecord is the schedule provider's view of one flight. All fields
// are optional; the provider routinely omits whole sections.
type ScheduleRecord struct {
	FlightStatus *string       `json:"flight_status"`
	Airline      *string       `json:"airline"`
	AircraftType *string       `json:"aircraft_type"`
	Registration *string       `json:"registration"`
	Departure    *ScheduleStop `json:"departure"`
	Arrival      *ScheduleStop `json:"arrival"`
}

// Landed reports whether the schedule source explicitly marked the flight
// as landed.
func (s *ScheduleRecord) Landed() bool {
	return s != nil && s.FlightStatus != nil && *s.FlightStatus == "landed"
}

// Airport is a display-oriented airport reference.
type Airport struct {
	Name *string `json:"name"`
	IATA *string `json:"iata"`
	ICAO *string `json:"icao"`
}

// Code returns the best available code for display.
func (a *Airport) Code() string {
	if a == nil {
		return "???"
	}
	if a.IATA != nil && *a.IATA != "" {
		return *a.IATA
	}
	if a.ICAO != nil && *a.ICAO != "" {
		return *a.ICAO
	}
	return "???"
}

// SourceState tracks the health of one upstream source for a flight, so the
// display can annotate stale data instead of blanking it.
type SourceState int

const (
	SourceNoData SourceState = iota // never fetched successfully
	SourceFresh                     // last fetch succeeded
	SourceStale                     // last fetch failed, older data retained
)

func (s SourceState) String() string {
	switch s {
	case SourceFresh:
		return "fresh"
	case SourceStale:
		return "stale"
	default:
		return "no data"
	}
}

// Flight is the merged tracking state for one flight number. Identity fields
// are set once at add time; everything else is overwritten field-by-field as
// fresh records arrive, and never downgraded to absent by a fetch.
type Flight struct {
	// Identity.
	FlightNumber string // normalized IATA designator, e.g. "UA100"
	ICAOCallsign string // derived via callsign.Normalize at add time
	ICAO24       string // transponder address, learned from position data

	Status FlightStatus

	// Raw status string from the schedule source, kept for precedence.
	ScheduleStatus *string

	// Schedule-sourced fields.
	Airline      *string
	AircraftType *string
	Registration *string
	Origin       *Airport
	Destination  *Airport

	DepartureScheduled *time.Time
	DepartureEstimated *time.Time
	DepartureActual    *time.Time
	DepartureDelayMin  *int

	ArrivalScheduled *time.Time
	ArrivalEstimated *time.Time
	ArrivalActual    *time.Time
	ArrivalDelayMin  *int

	// Position-sourced fields.
	Latitude        *float64
	Longitude       *float64
	AltitudeFt      *float64
	HeadingDeg      *float64
	GroundSpeedKts  *float64
	VerticalRateFpm *float64
	OnGround        bool
	Squawk          *string

	// Per-source health for the presentation layer.
	PositionState SourceState
	ScheduleState SourceState

	LastUpdated time.Time
}

// HasPosition reports whether the flight carries a live position fix.
func (f *Flight) HasPosition() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// HasSchedule reports whether any schedule data has been merged in.
func (f *Flight) HasSchedule() bool {
	return f.ScheduleStatus != nil || f.Origin != nil || f.Destination != nil ||
		f.DepartureScheduled != nil || f.ArrivalScheduled != nil
}

// Route returns a compact "SFO→LHR" route string, or "" if unknown.
func (f *Flight) Route() string {
	if f.Origin == nil || f.Destination == nil {
		return ""
	}
	return f.Origin.Code() + "→" + f.Destination.Code()
}
