// Package flow provides a resumable, checkpointed orchestration engine for
// long-running, multi-stage content-transformation jobs.
package flow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is the mutable record threaded through all stages of a job.
//
// It is a versioned key→value bag holding unit-list references, counters,
// and boolean gate flags. Values must be JSON-serializable so the state can
// be checkpointed and deep-copied.
//
// Reads use explicit defaults: any key a downstream stage reads must either
// be written upstream or be read through a Get* accessor with a default.
// Absence is never treated as success: a missing gate flag reads as failed.
type State struct {
	// Version counts completed stages. The engine increments it after each
	// stage, so two checkpoints of the same job never share a version.
	Version int `json:"version"`

	// Values holds the state entries. After a Clone or a checkpoint
	// round-trip the concrete types follow encoding/json conventions
	// (numbers become float64), so callers should read through the typed
	// accessors rather than asserting directly.
	Values map[string]any `json:"values"`
}

// NewState creates an empty State at version zero.
func NewState() *State {
	return &State{Values: make(map[string]any)}
}

// Set stores a value under key, replacing any previous value.
func (s *State) Set(key string, value any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = value
}

// Get returns the raw value for key and whether it was present.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// GetString returns the string stored under key, or def when the key is
// absent or not a string.
func (s *State) GetString(key, def string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return def
}

// GetBool returns the boolean stored under key, or def when the key is
// absent or not a boolean.
//
// Gate flags must be read with def=false so that an upstream stage failing
// to write the flag is treated as not-passed, never as passed.
func (s *State) GetBool(key string, def bool) bool {
	if v, ok := s.Values[key].(bool); ok {
		return v
	}
	return def
}

// GetInt returns the integer stored under key, or def when the key is
// absent or not numeric. Handles the float64 representation produced by
// JSON round-trips.
func (s *State) GetInt(key string, def int) int {
	switch v := s.Values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// GetFloat returns the float stored under key, or def when the key is
// absent or not numeric.
func (s *State) GetFloat(key string, def float64) float64 {
	switch v := s.Values[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Keys returns the state's keys in sorted order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone creates a deep copy of the state using a JSON round-trip.
//
// This works for any value that can be JSON-marshaled. Channels, functions,
// and circular references will fail; unexported struct fields are dropped.
func (s *State) Clone() (*State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	copied := NewState()
	if err := json.Unmarshal(data, copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}

// DecodeStateKey decodes the typed value stored under key into out,
// surviving checkpoint round-trips. See State.decode.
func DecodeStateKey(s *State, key string, out any) error {
	return s.decode(key, out)
}

// decode re-marshals the value stored under key into out. This recovers
// typed values (slices of structs, nested structs) regardless of whether
// the state has been through a checkpoint round-trip.
func (s *State) decode(key string, out any) error {
	v, ok := s.Values[key]
	if !ok {
		return fmt.Errorf("state key %q not set", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal state key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode state key %q: %w", key, err)
	}
	return nil
}
