// Package model defines the domain types shared by acquisition, processing,
// storage, sync and reporting.
package model

import (
	"fmt"
	"strings"
)

// SignalSample is a single acquired or processed reading. Samples are values
// and are never mutated after creation; processing produces new samples.
type SignalSample struct {
	Timestamp int64   `json:"timestamp"` // ms since epoch
	Amplitude float64 `json:"amplitude"`
	Phase     float64 `json:"phase"` // degrees
	Position  float64 `json:"position"`
	Frequency float64 `json:"frequency"`
}

// FilterType selects the moving-average filter applied after gain
type FilterType string

const (
	FilterNone     FilterType = "none"
	FilterLowpass  FilterType = "lowpass"
	FilterHighpass FilterType = "highpass"
	FilterBandpass FilterType = "bandpass"
)

// Valid reports whether f is a known filter type
func (f FilterType) Valid() bool {
	switch f {
	case FilterNone, FilterLowpass, FilterHighpass, FilterBandpass:
		return true
	}
	return false
}

// ParseFilterType parses a filter name case-insensitively
func ParseFilterType(s string) (FilterType, error) {
	f := FilterType(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown filter type %q", s)
	}
	return f, nil
}
