package model

import "time"

// SessionStatus is the lifecycle state of a testing session
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// SyncStatus tracks whether a locally stored session reached the remote store
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// TestingSession is a single inspection run
type TestingSession struct {
	ID          string            `json:"id"`
	ProjectName string            `json:"projectName"`
	OperatorID  string            `json:"operatorId"`
	StartTime   time.Time         `json:"startTime"`
	EndTime     *time.Time        `json:"endTime,omitempty"`
	Status      SessionStatus     `json:"status"`
	Parameters  TestingParameters `json:"parameters"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// LastModified returns the most recent modification time known for the session
func (s *TestingSession) LastModified() time.Time {
	if s.UpdatedAt.IsZero() {
		return s.StartTime
	}
	return s.UpdatedAt
}

// SessionUpdate is a partial session update; nil fields are left unchanged
type SessionUpdate struct {
	Status     *SessionStatus     `json:"status,omitempty"`
	EndTime    *time.Time         `json:"endTime,omitempty"`
	Parameters *TestingParameters `json:"parameters,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
}

// Apply returns s with u applied
func (s TestingSession) Apply(u SessionUpdate) TestingSession {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.EndTime != nil {
		t := *u.EndTime
		s.EndTime = &t
	}
	if u.Parameters != nil {
		s.Parameters = *u.Parameters
	}
	if u.Metadata != nil {
		s.Metadata = u.Metadata
	}
	return s
}

// SessionFilters narrows a session listing
type SessionFilters struct {
	OperatorID  string
	Status      SessionStatus
	ProjectName string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
}

// CompleteSessionData is a session with its ordered signals and defects
type CompleteSessionData struct {
	Session TestingSession `json:"session"`
	Signals []SignalSample `json:"signals"`
	Defects []Defect       `json:"defects"`
}

// CalibrationType categorizes calibration records
type CalibrationType string

const (
	CalibrationStandardBlock   CalibrationType = "standard_block"
	CalibrationReferenceSignal CalibrationType = "reference_signal"
	CalibrationSystemCheck     CalibrationType = "system_check"
	CalibrationCustom          CalibrationType = "custom"
)

// CalibrationData records an instrument calibration. At most one active
// calibration per type is current.
type CalibrationData struct {
	ID              string             `json:"id"`
	OperatorID      string             `json:"operatorId"`
	CalibrationType CalibrationType    `json:"calibrationType"`
	ReferenceSignal []float64          `json:"referenceSignal,omitempty"`
	Coefficients    map[string]float64 `json:"coefficients,omitempty"`
	StandardBlock   string             `json:"standardBlock,omitempty"`
	CalibrationDate time.Time          `json:"calibrationDate"`
	ExpiryDate      *time.Time         `json:"expiryDate,omitempty"`
	IsActive        bool               `json:"isActive"`
}

// Expired reports whether the calibration has passed its expiry at now
func (c *CalibrationData) Expired(now time.Time) bool {
	return c.ExpiryDate != nil && now.After(*c.ExpiryDate)
}
