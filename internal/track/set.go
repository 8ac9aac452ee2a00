package track

import (
	"fmt"
	"strings"

	"github.com/skywatch/flighttrack/internal/callsign"
	"github.com/skywatch/flighttrack/pkg/models"
)

// ErrDuplicate is returned when a flight number is already tracked.
var ErrDuplicate = fmt.Errorf("flight already tracked")

// ErrNotTracked is returned for operations on an unknown flight number.
var ErrNotTracked = fmt.Errorf("flight not tracked")

// ErrInvalidFlight is returned for flight numbers that cannot identify a
// flight (empty, or no numeric part).
var ErrInvalidFlight = fmt.Errorf("invalid flight number")

// Set is an ordered collection of tracked flights with a selection cursor.
// Insertion order is display order. Set is not safe for concurrent use; the
// orchestrator's consumer loop is its sole owner.
type Set struct {
	flights []*models.Flight
	index   map[string]int
	cursor  int
}

// NewSet returns an empty tracking set.
func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// CanonicalFlightNumber normalizes user input to the set's key form:
// uppercased with all spaces removed, "ua 100" to "UA100".
func CanonicalFlightNumber(input string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(input)), " ", "")
}

// Add inserts a new flight at the end of the display order. The ICAO
// callsign is derived immediately; position data fills in the transponder
// address later.
func (s *Set) Add(flightNumber string) (*models.Flight, error) {
	fn := CanonicalFlightNumber(flightNumber)
	if !validFlightNumber(fn) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFlight, flightNumber)
	}
	if _, exists := s.index[fn]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, fn)
	}

	f := &models.Flight{
		FlightNumber: fn,
		ICAOCallsign: callsign.Normalize(fn),
		Status:       models.StatusUnknown,
	}
	s.index[fn] = len(s.flights)
	s.flights = append(s.flights, f)
	return f, nil
}

// Remove deletes a flight, preserving the order of the rest. The cursor
// follows the element it pointed at when possible, otherwise clamps to the
// nearest remaining one.
func (s *Set) Remove(flightNumber string) error {
	fn := CanonicalFlightNumber(flightNumber)
	pos, ok := s.index[fn]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, fn)
	}

	s.flights = append(s.flights[:pos], s.flights[pos+1:]...)
	delete(s.index, fn)
	for i := pos; i < len(s.flights); i++ {
		s.index[s.flights[i].FlightNumber] = i
	}

	if pos < s.cursor {
		s.cursor--
	}
	if s.cursor >= len(s.flights) {
		s.cursor = len(s.flights) - 1
	}
	if s.cursor < 0 {
		s.cursor = 0
	}
	return nil
}

// Get returns the flight for a number, if tracked.
func (s *Set) Get(flightNumber string) (*models.Flight, bool) {
	pos, ok := s.index[CanonicalFlightNumber(flightNumber)]
	if !ok {
		return nil, false
	}
	return s.flights[pos], true
}

// Contains reports whether a flight number is currently tracked.
func (s *Set) Contains(flightNumber string) bool {
	_, ok := s.index[CanonicalFlightNumber(flightNumber)]
	return ok
}

// Selected returns the flight under the cursor, or nil for an empty set.
func (s *Set) Selected() *models.Flight {
	if len(s.flights) == 0 {
		return nil
	}
	return s.flights[s.cursor]
}

// SelectNext advances the cursor, wrapping at the end.
func (s *Set) SelectNext() {
	if len(s.flights) > 0 {
		s.cursor = (s.cursor + 1) % len(s.flights)
	}
}

// SelectPrevious moves the cursor back, wrapping at the front.
func (s *Set) SelectPrevious() {
	if len(s.flights) > 0 {
		s.cursor = (s.cursor - 1 + len(s.flights)) % len(s.flights)
	}
}

// Len returns the number of tracked flights.
func (s *Set) Len() int {
	return len(s.flights)
}

// Flights returns the tracked flights in display order. The slice is a copy;
// the elements are the live pointers.
func (s *Set) Flights() []*models.Flight {
	out := make([]*models.Flight, len(s.flights))
	copy(out, s.flights)
	return out
}

// validFlightNumber requires an airline designator part followed by a
// numeric part, loosely: at least one letter prefix and at least one digit.
func validFlightNumber(fn string) bool {
	if len(fn) < 2 {
		return false
	}
	hasDigit := false
	for _, r := range fn {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return hasDigit && !(fn[0] >= '0' && fn[0] <= '9')
}
