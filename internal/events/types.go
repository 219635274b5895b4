// Package events provides an asynchronous event bus that decouples session
// and defect notifications from alarm sinks, so a slow broker never blocks
// acquisition.
package events

import (
	"time"

	"github.com/tphakala/magtest/internal/model"
)

// Kind identifies an event type
type Kind string

const (
	KindDefect  Kind = "defect"
	KindSession Kind = "session"
)

// Event is anything published on the bus
type Event interface {
	// GetKind returns the event type
	GetKind() Kind

	// GetSessionID returns the session the event belongs to
	GetSessionID() string

	// GetTimestamp returns when the event occurred
	GetTimestamp() time.Time
}

// DefectEvent is published for every newly detected defect
type DefectEvent struct {
	SessionID   string       `json:"sessionId"`
	ProjectName string       `json:"projectName"`
	Defect      model.Defect `json:"defect"`
	DetectedAt  time.Time    `json:"detectedAt"`
}

func (e DefectEvent) GetKind() Kind           { return KindDefect }
func (e DefectEvent) GetSessionID() string    { return e.SessionID }
func (e DefectEvent) GetTimestamp() time.Time { return e.DetectedAt }

// SessionEvent is published on session state transitions
type SessionEvent struct {
	SessionID   string              `json:"sessionId"`
	ProjectName string              `json:"projectName"`
	OperatorID  string              `json:"operatorId"`
	Status      model.SessionStatus `json:"status"`
	At          time.Time           `json:"at"`
}

func (e SessionEvent) GetKind() Kind           { return KindSession }
func (e SessionEvent) GetSessionID() string    { return e.SessionID }
func (e SessionEvent) GetTimestamp() time.Time { return e.At }

// Consumer processes events delivered by the bus
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent handles a single event
	ProcessEvent(event Event) error
}

// Stats contains runtime statistics for monitoring
type Stats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
