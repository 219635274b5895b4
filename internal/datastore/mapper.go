package datastore

import (
	"encoding/json"
	"fmt"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
)

func encodeParameters(p model.TestingParameters) (string, error) {
	b, err := model.EncodeParameters(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeParameters(raw string) (model.TestingParameters, error) {
	p, err := model.DecodeParameters([]byte(raw))
	if err != nil {
		return p, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "decode_parameters").
			Build()
	}
	return p, nil
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// decodeMetadata accepts any JSON object and stringifies non-string values
func decodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var free map[string]any
	if err := json.Unmarshal([]byte(raw), &free); err != nil {
		return nil
	}
	out := make(map[string]string, len(free))
	for k, v := range free {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}

func sessionToRow(s *model.TestingSession) (*SessionRow, error) {
	params, err := encodeParameters(s.Parameters)
	if err != nil {
		return nil, err
	}
	return &SessionRow{
		ID:          s.ID,
		ProjectName: s.ProjectName,
		OperatorID:  s.OperatorID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Status:      string(s.Status),
		Parameters:  params,
		Metadata:    encodeMetadata(s.Metadata),
		SyncStatus:  string(model.SyncPending),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}, nil
}

func rowToSession(r *SessionRow) (*model.TestingSession, error) {
	params, err := decodeParameters(r.Parameters)
	if err != nil {
		return nil, err
	}
	return &model.TestingSession{
		ID:          r.ID,
		ProjectName: r.ProjectName,
		OperatorID:  r.OperatorID,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Status:      model.SessionStatus(r.Status),
		Parameters:  params,
		Metadata:    decodeMetadata(r.Metadata),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func signalToRow(sessionID string, s *model.SignalSample) SignalRow {
	return SignalRow{
		SessionID: sessionID,
		Timestamp: s.Timestamp,
		Amplitude: s.Amplitude,
		Phase:     s.Phase,
		Position:  s.Position,
		Frequency: s.Frequency,
	}
}

func rowToSignal(r *SignalRow) model.SignalSample {
	return model.SignalSample{
		Timestamp: r.Timestamp,
		Amplitude: r.Amplitude,
		Phase:     r.Phase,
		Position:  r.Position,
		Frequency: r.Frequency,
	}
}

func defectToRow(d *model.Defect) DefectRow {
	return DefectRow{
		ID:            d.ID,
		SessionID:     d.SessionID,
		Position:      d.Position,
		Amplitude:     d.Amplitude,
		Severity:      string(d.Severity),
		Timestamp:     d.Timestamp,
		GateTriggered: string(d.GateTriggered),
		Notes:         d.Notes,
	}
}

func rowToDefect(r *DefectRow) model.Defect {
	return model.Defect{
		ID:            r.ID,
		SessionID:     r.SessionID,
		Position:      r.Position,
		Amplitude:     r.Amplitude,
		Severity:      model.Severity(r.Severity),
		Timestamp:     r.Timestamp,
		GateTriggered: model.GateTrigger(r.GateTriggered),
		Notes:         r.Notes,
	}
}

func calibrationToRow(c *model.CalibrationData) (*CalibrationRow, error) {
	row := &CalibrationRow{
		ID:              c.ID,
		OperatorID:      c.OperatorID,
		CalibrationType: string(c.CalibrationType),
		IsActive:        c.IsActive,
		StandardBlock:   c.StandardBlock,
		CalibrationDate: c.CalibrationDate,
		ExpiryDate:      c.ExpiryDate,
	}
	if len(c.ReferenceSignal) > 0 {
		b, err := json.Marshal(c.ReferenceSignal)
		if err != nil {
			return nil, err
		}
		row.ReferenceSignal = string(b)
	}
	if len(c.Coefficients) > 0 {
		b, err := json.Marshal(c.Coefficients)
		if err != nil {
			return nil, err
		}
		row.Coefficients = string(b)
	}
	return row, nil
}

func rowToCalibration(r *CalibrationRow) (*model.CalibrationData, error) {
	c := &model.CalibrationData{
		ID:              r.ID,
		OperatorID:      r.OperatorID,
		CalibrationType: model.CalibrationType(r.CalibrationType),
		IsActive:        r.IsActive,
		StandardBlock:   r.StandardBlock,
		CalibrationDate: r.CalibrationDate,
		ExpiryDate:      r.ExpiryDate,
	}
	if r.ReferenceSignal != "" {
		if err := json.Unmarshal([]byte(r.ReferenceSignal), &c.ReferenceSignal); err != nil {
			return nil, err
		}
	}
	if r.Coefficients != "" {
		if err := json.Unmarshal([]byte(r.Coefficients), &c.Coefficients); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func rowToPending(r *PendingSyncRow) model.PendingSyncItem {
	return model.PendingSyncItem{
		ID:         r.ID,
		Type:       model.SyncType(r.Type),
		Action:     model.SyncAction(r.Action),
		Data:       json.RawMessage(r.Data),
		Timestamp:  r.Timestamp,
		RetryCount: r.RetryCount,
		SessionID:  r.SessionID,
	}
}
