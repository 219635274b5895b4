package remote

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tphakala/magtest/internal/model"
)

// JSONBlob is an opaque JSON value stored as text in SQL and embedded as a
// JSON value in REST payloads.
type JSONBlob []byte

func (b JSONBlob) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

func (b *JSONBlob) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}
	*b = append((*b)[:0], data...)
	return nil
}

// Value implements driver.Valuer
func (b JSONBlob) Value() (driver.Value, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (b *JSONBlob) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = nil
	case []byte:
		*b = append(JSONBlob(nil), v...)
	case string:
		*b = JSONBlob(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBlob", src)
	}
	return nil
}

// SessionRecord is a testing_sessions row
type SessionRecord struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProjectName string     `json:"project_name" gorm:"type:varchar(100)"`
	OperatorID  string     `json:"operator_id" gorm:"type:varchar(64);index"`
	StartTime   time.Time  `json:"start_time" gorm:"index"`
	EndTime     *time.Time `json:"end_time"`
	Status      string     `json:"status" gorm:"type:varchar(20);index"`
	Parameters  JSONBlob   `json:"parameters" gorm:"type:text"`
	Metadata    JSONBlob   `json:"metadata" gorm:"type:text"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime:false"`
}

func (SessionRecord) TableName() string { return "testing_sessions" }

// SignalRecord is a signal_data row
type SignalRecord struct {
	ID        uint    `json:"id,omitempty" gorm:"primaryKey"`
	SessionID string  `json:"session_id" gorm:"type:varchar(36);index:idx_remote_signal_session_ts,priority:1"`
	Timestamp int64   `json:"timestamp" gorm:"index:idx_remote_signal_session_ts,priority:2"`
	Amplitude float64 `json:"amplitude"`
	Phase     float64 `json:"phase"`
	Position  float64 `json:"position"`
	Frequency float64 `json:"frequency"`
}

func (SignalRecord) TableName() string { return "signal_data" }

// DefectRecord is a defects row
type DefectRecord struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SessionID     string    `json:"session_id" gorm:"type:varchar(36);index"`
	Position      float64   `json:"position"`
	Amplitude     float64   `json:"amplitude"`
	Severity      string    `json:"severity" gorm:"type:varchar(10)"`
	Timestamp     time.Time `json:"timestamp"`
	GateTriggered string    `json:"gate_triggered" gorm:"type:varchar(4)"`
	Notes         string    `json:"notes"`
}

func (DefectRecord) TableName() string { return "defects" }

// CalibrationRecord is a calibrations row
type CalibrationRecord struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OperatorID      string     `json:"operator_id" gorm:"type:varchar(64)"`
	CalibrationType string     `json:"calibration_type" gorm:"type:varchar(32);index"`
	ReferenceSignal JSONBlob   `json:"reference_signal" gorm:"type:text"`
	Coefficients    JSONBlob   `json:"coefficients" gorm:"type:text"`
	StandardBlock   string     `json:"standard_block"`
	CalibrationDate time.Time  `json:"calibration_date" gorm:"index"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	IsActive        bool       `json:"is_active" gorm:"index"`
}

func (CalibrationRecord) TableName() string { return "calibrations" }

// ReportRecord is a reports row
type ReportRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SessionID   string    `json:"session_id" gorm:"type:varchar(36);index"`
	ReportType  string    `json:"report_type" gorm:"type:varchar(20)"`
	Standard    string    `json:"standard" gorm:"type:varchar(10)"`
	Content     JSONBlob  `json:"content" gorm:"type:text"`
	PDFURL      string    `json:"pdf_url" gorm:"column:pdf_url"`
	GeneratedBy string    `json:"generated_by"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (ReportRecord) TableName() string { return "reports" }

func sessionToRecord(s *model.TestingSession) (*SessionRecord, error) {
	params, err := model.EncodeParameters(s.Parameters)
	if err != nil {
		return nil, err
	}
	rec := &SessionRecord{
		ID:          s.ID,
		ProjectName: s.ProjectName,
		OperatorID:  s.OperatorID,
		StartTime:   s.StartTime.UTC(),
		Status:      string(s.Status),
		Parameters:  params,
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   s.UpdatedAt.UTC(),
	}
	if s.EndTime != nil {
		end := s.EndTime.UTC()
		rec.EndTime = &end
	}
	if len(s.Metadata) > 0 {
		if rec.Metadata, err = json.Marshal(s.Metadata); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func recordToSession(r *SessionRecord) (*model.TestingSession, error) {
	params, err := model.DecodeParameters(r.Parameters)
	if err != nil {
		return nil, err
	}
	s := &model.TestingSession{
		ID:          r.ID,
		ProjectName: r.ProjectName,
		OperatorID:  r.OperatorID,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Status:      model.SessionStatus(r.Status),
		Parameters:  params,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &s.Metadata); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func signalsToRecords(sessionID string, samples []model.SignalSample) []SignalRecord {
	out := make([]SignalRecord, len(samples))
	for i := range samples {
		out[i] = SignalRecord{
			SessionID: sessionID,
			Timestamp: samples[i].Timestamp,
			Amplitude: samples[i].Amplitude,
			Phase:     samples[i].Phase,
			Position:  samples[i].Position,
			Frequency: samples[i].Frequency,
		}
	}
	return out
}

func recordsToSignals(recs []SignalRecord) []model.SignalSample {
	out := make([]model.SignalSample, len(recs))
	for i := range recs {
		out[i] = model.SignalSample{
			Timestamp: recs[i].Timestamp,
			Amplitude: recs[i].Amplitude,
			Phase:     recs[i].Phase,
			Position:  recs[i].Position,
			Frequency: recs[i].Frequency,
		}
	}
	return out
}

func defectToRecord(d *model.Defect) *DefectRecord {
	return &DefectRecord{
		ID:            d.ID,
		SessionID:     d.SessionID,
		Position:      d.Position,
		Amplitude:     d.Amplitude,
		Severity:      string(d.Severity),
		Timestamp:     d.Timestamp.UTC(),
		GateTriggered: string(d.GateTriggered),
		Notes:         d.Notes,
	}
}

func recordsToDefects(recs []DefectRecord) []model.Defect {
	out := make([]model.Defect, len(recs))
	for i := range recs {
		out[i] = model.Defect{
			ID:            recs[i].ID,
			SessionID:     recs[i].SessionID,
			Position:      recs[i].Position,
			Amplitude:     recs[i].Amplitude,
			Severity:      model.Severity(recs[i].Severity),
			Timestamp:     recs[i].Timestamp,
			GateTriggered: model.GateTrigger(recs[i].GateTriggered),
			Notes:         recs[i].Notes,
		}
	}
	return out
}

func calibrationToRecord(c *model.CalibrationData) (*CalibrationRecord, error) {
	rec := &CalibrationRecord{
		ID:              c.ID,
		OperatorID:      c.OperatorID,
		CalibrationType: string(c.CalibrationType),
		StandardBlock:   c.StandardBlock,
		CalibrationDate: c.CalibrationDate.UTC(),
		ExpiryDate:      c.ExpiryDate,
		IsActive:        c.IsActive,
	}
	var err error
	if len(c.ReferenceSignal) > 0 {
		if rec.ReferenceSignal, err = json.Marshal(c.ReferenceSignal); err != nil {
			return nil, err
		}
	}
	if len(c.Coefficients) > 0 {
		if rec.Coefficients, err = json.Marshal(c.Coefficients); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func recordToCalibration(r *CalibrationRecord) (*model.CalibrationData, error) {
	c := &model.CalibrationData{
		ID:              r.ID,
		OperatorID:      r.OperatorID,
		CalibrationType: model.CalibrationType(r.CalibrationType),
		StandardBlock:   r.StandardBlock,
		CalibrationDate: r.CalibrationDate,
		ExpiryDate:      r.ExpiryDate,
		IsActive:        r.IsActive,
	}
	if len(r.ReferenceSignal) > 0 {
		if err := json.Unmarshal(r.ReferenceSignal, &c.ReferenceSignal); err != nil {
			return nil, err
		}
	}
	if len(r.Coefficients) > 0 {
		if err := json.Unmarshal(r.Coefficients, &c.Coefficients); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func reportToRecord(r *model.Report) *ReportRecord {
	return &ReportRecord{
		ID:          r.ID,
		SessionID:   r.SessionID,
		ReportType:  string(r.ReportType),
		Standard:    string(r.Standard),
		Content:     JSONBlob(r.Content),
		PDFURL:      r.PDFURL,
		GeneratedBy: r.GeneratedBy,
		GeneratedAt: r.GeneratedAt.UTC(),
	}
}

func recordToReport(r *ReportRecord) *model.Report {
	return &model.Report{
		ID:          r.ID,
		SessionID:   r.SessionID,
		ReportType:  model.ReportType(r.ReportType),
		Standard:    model.Standard(r.Standard),
		Content:     json.RawMessage(r.Content),
		PDFURL:      r.PDFURL,
		GeneratedBy: r.GeneratedBy,
		GeneratedAt: r.GeneratedAt,
	}
}
