package model

import (
	"encoding/json"
	"time"
)

// SyncType is the entity kind carried by a pending sync item
type SyncType string

const (
	SyncTypeSession     SyncType = "session"
	SyncTypeSignalData  SyncType = "signal_data"
	SyncTypeDefect      SyncType = "defect"
	SyncTypeCalibration SyncType = "calibration"
)

// Order is the replay order of the type within a session group
func (t SyncType) Order() int {
	switch t {
	case SyncTypeSession:
		return 0
	case SyncTypeSignalData:
		return 1
	case SyncTypeDefect:
		return 2
	case SyncTypeCalibration:
		return 3
	}
	return 4
}

// SyncAction is the operation a pending sync item replays
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// Order is the replay order of the action within equal types
func (a SyncAction) Order() int {
	switch a {
	case ActionCreate:
		return 0
	case ActionUpdate:
		return 1
	case ActionDelete:
		return 2
	}
	return 3
}

// PendingSyncItem is one not-yet-acknowledged remote write
type PendingSyncItem struct {
	ID         int64           `json:"id"`
	Type       SyncType        `json:"type"`
	Action     SyncAction      `json:"action"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	SessionID  string          `json:"sessionId,omitempty"`
}

// Less orders items by type, then action, then queue id
func (p *PendingSyncItem) Less(o *PendingSyncItem) bool {
	if p.Type.Order() != o.Type.Order() {
		return p.Type.Order() < o.Type.Order()
	}
	if p.Action.Order() != o.Action.Order() {
		return p.Action.Order() < o.Action.Order()
	}
	return p.ID < o.ID
}

// SignalBatch is the payload of a signal_data sync item
type SignalBatch struct {
	SessionID string         `json:"sessionId"`
	Samples   []SignalSample `json:"samples"`
}

// DeletePayload is the payload of a delete sync item
type DeletePayload struct {
	ID string `json:"id"`
}
