package model

import "time"

// Severity is the ordinal classification of a defect
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists all severities in ascending rank
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank orders severities low < medium < high < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// GateTrigger names the gate(s) a defect was detected in
type GateTrigger string

const (
	GateA    GateTrigger = "A"
	GateB    GateTrigger = "B"
	GateBoth GateTrigger = "both"
)

// Defect is a detected indication. It belongs to exactly one session and
// is not modified after detection.
type Defect struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"sessionId,omitempty"`
	Position      float64     `json:"position"`
	Amplitude     float64     `json:"amplitude"` // absolute value
	Severity      Severity    `json:"severity"`
	Timestamp     time.Time   `json:"timestamp"`
	GateTriggered GateTrigger `json:"gateTriggered"`
	Notes         string      `json:"notes,omitempty"`
}

// CountBySeverity tallies defects per severity
func CountBySeverity(defects []Defect) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, s := range Severities {
		counts[s] = 0
	}
	for i := range defects {
		counts[defects[i].Severity]++
	}
	return counts
}
