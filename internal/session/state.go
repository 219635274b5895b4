// Package session implements the testing session state machine. The
// Manager owns the live sample and defect buffers of the one active
// session, drives acquisition and processing, and flushes batches to the
// offline store.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/model"
)

var (
	// ErrSessionActive is returned when an operation needs no live session
	ErrSessionActive = errors.NewStd("a testing session is already active")
	// ErrNoSession is returned when an operation needs a session and there is none
	ErrNoSession = errors.NewStd("no testing session")
	// ErrInvalidTransition is returned for a transition the current phase does not allow
	ErrInvalidTransition = errors.NewStd("invalid session state transition")
)

// Phase is the state of the Manager
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
	PhaseLoaded    Phase = "loaded" // historical session, read-only
)

// Live reports whether the phase owns a running or paused acquisition
func (p Phase) Live() bool {
	return p == PhaseRunning || p == PhasePaused
}

// Store is the subset of the offline store the Manager writes to
type Store interface {
	SaveSession(ctx context.Context, s *model.TestingSession) error
	UpdateSession(ctx context.Context, id string, u model.SessionUpdate) (*model.TestingSession, error)
	GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error)
	SaveSignalData(ctx context.Context, sessionID string, samples []model.SignalSample) error
	SaveDefects(ctx context.Context, sessionID string, defects []model.Defect) error
}

// Publisher accepts events without blocking
type Publisher interface {
	TryPublish(event events.Event) bool
}

// Syncer is nudged after local writes
type Syncer interface {
	Trigger()
}

// Config controls flushing and progress reporting
type Config struct {
	FlushThreshold   int           // processed samples that trigger a flush
	FlushInterval    time.Duration // how often the threshold is checked
	ProgressInterval time.Duration // progress tick period
	DedupeSeparation float64       // 0 keeps every detector trigger
	OperatorID       string        // used when a start request has none
	Defaults         model.TestingParameters
}

// DefaultConfig flushes every 100 samples, checked once per second
func DefaultConfig() Config {
	return Config{
		FlushThreshold:   100,
		FlushInterval:    time.Second,
		ProgressInterval: time.Second,
		OperatorID:       "operator",
		Defaults:         model.DefaultParameters(),
	}
}

// StartRequest describes a new session
type StartRequest struct {
	ProjectName string
	OperatorID  string
	Parameters  *model.TestingParameters // nil uses the configured defaults
	Metadata    map[string]string
}

// Stats are the derived progress counters of the current session
type Stats struct {
	Duration         time.Duration
	DurationText     string // HH:MM:SS
	SamplesCollected int
	DefectsDetected  int
	SamplingRate     int
}

// State is a snapshot handed to subscribers
type State struct {
	Phase        Phase
	Session      *model.TestingSession
	Stats        Stats
	LatestSample *model.SignalSample
	Buffered     int // processed samples waiting for the next flush
	Error        string
}

// IsTesting reports whether acquisition is running
func (s State) IsTesting() bool { return s.Phase == PhaseRunning }

// IsPaused reports whether the session is paused
func (s State) IsPaused() bool { return s.Phase == PhasePaused }

// CanStart reports whether a new session may be started
func (s State) CanStart() bool { return !s.Phase.Live() }

// FormatDuration renders d as HH:MM:SS
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	sec := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
