package datastore

import "time"

// SessionRow is the sessions table
type SessionRow struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	ProjectName string    `gorm:"index:idx_sessions_project"`
	OperatorID  string    `gorm:"index:idx_sessions_operator"`
	StartTime   time.Time `gorm:"index:idx_sessions_start_time"`
	EndTime     *time.Time
	Status      string `gorm:"type:varchar(20);index:idx_sessions_status"`
	Parameters  string `gorm:"type:text"` // versioned JSON envelope
	Metadata    string `gorm:"type:text"`
	SyncStatus  string `gorm:"type:varchar(20);index:idx_sessions_sync_status"`
	SyncError   string
	LastSyncAt  *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (SessionRow) TableName() string { return "sessions" }

// SignalRow is the signal_data table
type SignalRow struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"type:varchar(36);index:idx_signal_session_ts,priority:1"`
	Timestamp int64  `gorm:"index:idx_signal_session_ts,priority:2;index:idx_signal_timestamp"`
	Amplitude float64
	Phase     float64
	Position  float64
	Frequency float64
}

func (SignalRow) TableName() string { return "signal_data" }

// DefectRow is the defects table
type DefectRow struct {
	ID            string  `gorm:"primaryKey;type:varchar(36)"`
	SessionID     string  `gorm:"type:varchar(36);index:idx_defects_session"`
	Position      float64 `gorm:"index:idx_defects_position"`
	Amplitude     float64
	Severity      string    `gorm:"type:varchar(10);index:idx_defects_severity"`
	Timestamp     time.Time `gorm:"index:idx_defects_timestamp"`
	GateTriggered string    `gorm:"type:varchar(4)"`
	Notes         string
}

func (DefectRow) TableName() string { return "defects" }

// CalibrationRow is the calibrations table
type CalibrationRow struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	OperatorID      string
	CalibrationType string `gorm:"type:varchar(32);index:idx_calibrations_type_active,priority:1"`
	IsActive        bool   `gorm:"index:idx_calibrations_type_active,priority:2"`
	ReferenceSignal string `gorm:"type:text"`
	Coefficients    string `gorm:"type:text"`
	StandardBlock   string
	CalibrationDate time.Time `gorm:"index:idx_calibrations_date"`
	ExpiryDate      *time.Time
}

func (CalibrationRow) TableName() string { return "calibrations" }

// PendingSyncRow is the pending_sync table
type PendingSyncRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Type       string    `gorm:"type:varchar(20);index:idx_pending_type"`
	Action     string    `gorm:"type:varchar(10)"`
	Data       string    `gorm:"type:text"`
	Timestamp  time.Time `gorm:"index:idx_pending_timestamp"`
	RetryCount int
	LastError  string
	SessionID  string `gorm:"type:varchar(36);index:idx_pending_session"`
}

func (PendingSyncRow) TableName() string { return "pending_sync" }

func allModels() []any {
	return []any{&SessionRow{}, &SignalRow{}, &DefectRow{}, &CalibrationRow{}, &PendingSyncRow{}}
}
