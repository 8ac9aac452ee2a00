package track

import (
	"time"

	"github.com/skywatch/flighttrack/internal/metrics"
	"github.com/skywatch/flighttrack/pkg/models"
)

// Unit conversions from the position provider's SI units to display units.
const (
	metersToFeet = 3.28084
	mpsToKnots   = 1.94384
	mpsToFpm     = metersToFeet * 60
)

// ApplyPosition merges one position record into a flight. Only fields the
// record actually carries overwrite flight state; a record with no altitude
// leaves the previous altitude in place. Status is recomputed afterwards.
func ApplyPosition(f *models.Flight, rec *models.PositionRecord, now time.Time) {
	if rec == nil {
		return
	}

	if f.ICAO24 == "" && rec.ICAO24 != "" {
		f.ICAO24 = rec.ICAO24
	}

	if rec.Latitude != nil {
		f.Latitude = copyFloat(rec.Latitude)
	}
	if rec.Longitude != nil {
		f.Longitude = copyFloat(rec.Longitude)
	}
	if rec.BaroAltitudeM != nil {
		ft := *rec.BaroAltitudeM * metersToFeet
		f.AltitudeFt = &ft
	}
	if rec.TrueTrack != nil {
		f.HeadingDeg = copyFloat(rec.TrueTrack)
	}
	if rec.VelocityMPS != nil {
		kts := *rec.VelocityMPS * mpsToKnots
		f.GroundSpeedKts = &kts
	}
	if rec.VerticalRate != nil {
		fpm := *rec.VerticalRate * mpsToFpm
		f.VerticalRateFpm = &fpm
	}
	if rec.Squawk != nil {
		f.Squawk = copyString(rec.Squawk)
	}
	f.OnGround = rec.OnGround

	f.PositionState = models.SourceFresh
	f.LastUpdated = now
	metrics.MergesApplied.WithLabelValues("position").Inc()

	recomputeStatus(f)
}

// ApplySchedule merges one schedule record into a flight. Present fields
// overwrite, absent fields preserve. Status is recomputed afterwards.
func ApplySchedule(f *models.Flight, rec *models.ScheduleRecord, now time.Time) {
	if rec == nil {
		return
	}

	if rec.FlightStatus != nil {
		f.ScheduleStatus = copyString(rec.FlightStatus)
	}
	if rec.Airline != nil {
		f.Airline = copyString(rec.Airline)
	}
	if rec.AircraftType != nil {
		f.AircraftType = copyString(rec.AircraftType)
	}
	if rec.Registration != nil {
		f.Registration = copyString(rec.Registration)
	}

	if rec.Departure != nil {
		f.Origin = stopAirport(rec.Departure)
		if rec.Departure.Scheduled != nil {
			f.DepartureScheduled = copyTime(rec.Departure.Scheduled)
		}
		if rec.Departure.Estimated != nil {
			f.DepartureEstimated = copyTime(rec.Departure.Estimated)
		}
		if rec.Departure.Actual != nil {
			f.DepartureActual = copyTime(rec.Departure.Actual)
		}
		if rec.Departure.DelayMin != nil {
			f.DepartureDelayMin = copyInt(rec.Departure.DelayMin)
		}
	}
	if rec.Arrival != nil {
		f.Destination = stopAirport(rec.Arrival)
		if rec.Arrival.Scheduled != nil {
			f.ArrivalScheduled = copyTime(rec.Arrival.Scheduled)
		}
		if rec.Arrival.Estimated != nil {
			f.ArrivalEstimated = copyTime(rec.Arrival.Estimated)
		}
		if rec.Arrival.Actual != nil {
			f.ArrivalActual = copyTime(rec.Arrival.Actual)
		}
		if rec.Arrival.DelayMin != nil {
			f.ArrivalDelayMin = copyInt(rec.Arrival.DelayMin)
		}
	}

	f.ScheduleState = models.SourceFresh
	f.LastUpdated = now
	metrics.MergesApplied.WithLabelValues("schedule").Inc()

	recomputeStatus(f)
}

// MarkStale downgrades a source's health after a failed fetch without
// touching the data fields. A source that never produced data stays NoData.
func MarkStale(f *models.Flight, source string) {
	switch source {
	case "position":
		if f.PositionState == models.SourceFresh {
			f.PositionState = models.SourceStale
		}
	case "schedule":
		if f.ScheduleState == models.SourceFresh {
			f.ScheduleState = models.SourceStale
		}
	}
}

// recomputeStatus derives the lifecycle status from merged state. Precedence:
// an explicit "landed" from the schedule source wins over a live position,
// which wins over schedule-only data, which wins over nothing at all.
func recomputeStatus(f *models.Flight) {
	switch {
	case f.ScheduleStatus != nil && *f.ScheduleStatus == "landed":
		f.Status = models.StatusLanded
	case f.HasPosition():
		f.Status = models.StatusEnRoute
	case f.HasSchedule():
		f.Status = models.StatusScheduled
	default:
		f.Status = models.StatusUnknown
	}
}

func stopAirport(s *models.ScheduleStop) *models.Airport {
	return &models.Airport{Name: s.Airport, IATA: s.IATA, ICAO: s.ICAO}
}

func copyFloat(v *float64) *float64 {
	out := *v
	return &out
}

func copyString(v *string) *string {
	out := *v
	return &out
}

func copyInt(v *int) *int {
	out := *v
	return &out
}

func copyTime(v *time.Time) *time.Time {
	out := *v
	return &out
}
