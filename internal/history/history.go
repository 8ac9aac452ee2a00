// Package history keeps a small on-disk list of recently tracked flights so
// a new session can offer them back to the user.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxEntries = 20

// Entry is one remembered flight.
type Entry struct {
	FlightNumber string    `json:"flight_number"`
	Route        string    `json:"route,omitempty"`
	LastTracked  time.Time `json:"last_tracked"`
}

// Store is a bounded most-recent-first flight history, persisted as JSON.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	log     zerolog.Logger
}

// DefaultPath returns the per-user history location, honoring
// XDG_CONFIG_HOME when set.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "flighttrack", "history.json"), nil
}

// Open loads the history at path, tolerating a missing or unreadable file.
// History is a convenience; it never blocks startup.
func Open(path string, log zerolog.Logger) *Store {
	s := &Store{path: path, log: log.With().Str("component", "history").Logger()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("could not read history")
		}
		return s
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("history corrupt, starting fresh")
		s.entries = nil
	}
	if len(s.entries) > maxEntries {
		s.entries = s.entries[:maxEntries]
	}
	return s
}

// Record notes a tracked flight, moving it to the front if already present
// and updating its route if one is known now.
func (s *Store) Record(flightNumber, route string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{FlightNumber: flightNumber, Route: route, LastTracked: time.Now()}
	for i, e := range s.entries {
		if e.FlightNumber == flightNumber {
			if route == "" {
				entry.Route = e.Route
			}
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}

	s.entries = append([]Entry{entry}, s.entries...)
	if len(s.entries) > maxEntries {
		s.entries = s.entries[:maxEntries]
	}
}

// Recent returns the remembered flights, most recent first.
func (s *Store) Recent() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Save writes the history to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}
