package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MinGainDB            = 0.0
	MaxGainDB            = 100.0
	MinProjectNameLength = 3
	MaxProjectNameLength = 100
)

// FieldError describes a single invalid or missing field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FieldErrors is a list of field problems reported together
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Fields returns the names of the offending fields
func (fe FieldErrors) Fields() []string {
	out := make([]string, len(fe))
	for i, e := range fe {
		out[i] = e.Field
	}
	return out
}

// InRange reports whether min <= v <= max
func InRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// Required reports whether a string has non-blank content
func Required(s string) bool {
	return strings.TrimSpace(s) != ""
}

// ValidateProjectName checks the project name length bounds
func ValidateProjectName(name string) *FieldError {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinProjectNameLength || n > MaxProjectNameLength {
		return &FieldError{
			Field:   "projectName",
			Message: fmt.Sprintf("must be between %d and %d characters", MinProjectNameLength, MaxProjectNameLength),
		}
	}
	return nil
}

// ValidateParameters reports every problem in p. It never fails fast so the
// caller can show the whole list at once.
func ValidateParameters(p TestingParameters) FieldErrors {
	var errs FieldErrors
	if !InRange(p.Gain, MinGainDB, MaxGainDB) {
		errs = append(errs, FieldError{Field: "gain", Message: fmt.Sprintf("must be between %.0f and %.0f dB", MinGainDB, MaxGainDB)})
	}
	if !p.Filter.Valid() {
		errs = append(errs, FieldError{Field: "filter", Message: fmt.Sprintf("unknown filter %q", p.Filter)})
	}
	if p.Threshold <= 0 {
		errs = append(errs, FieldError{Field: "threshold", Message: "must be positive"})
	}
	if p.Velocity <= 0 {
		errs = append(errs, FieldError{Field: "velocity", Message: "must be positive"})
	}
	errs = append(errs, validateGate("gateA", p.GateA)...)
	errs = append(errs, validateGate("gateB", p.GateB)...)
	return errs
}

func validateGate(name string, g GateConfig) FieldErrors {
	var errs FieldErrors
	if g.Width < 0 {
		errs = append(errs, FieldError{Field: name + ".width", Message: "must not be negative"})
	}
	if g.Height < 0 {
		errs = append(errs, FieldError{Field: name + ".height", Message: "must not be negative"})
	}
	if g.AlarmThreshold < 0 {
		errs = append(errs, FieldError{Field: name + ".alarmThreshold", Message: "must not be negative"})
	}
	return errs
}
