// Package alarm forwards defect and session events from the event bus to
// external systems. Sinks implement events.Consumer.
package alarm

import (
	"encoding/json"
	"time"

	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/model"
)

// DefaultDeliveryTimeout bounds a single sink delivery
const DefaultDeliveryTimeout = 5 * time.Second

// Message is the JSON document delivered for every forwarded event
type Message struct {
	Kind        events.Kind         `json:"kind"`
	SessionID   string              `json:"sessionId"`
	ProjectName string              `json:"projectName,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
	Defect      *model.Defect       `json:"defect,omitempty"`
	Status      model.SessionStatus `json:"status,omitempty"`
	OperatorID  string              `json:"operatorId,omitempty"`
}

// Filter decides which events a sink forwards
type Filter struct {
	MinSeverity model.Severity
}

// Accept reports whether the event passes. Session events always pass;
// defects pass when their severity ranks at or above MinSeverity.
func (f Filter) Accept(event events.Event) bool {
	switch e := event.(type) {
	case events.DefectEvent:
		return f.MinSeverity == "" || e.Defect.Severity.Rank() >= f.MinSeverity.Rank()
	case events.SessionEvent:
		return true
	}
	return false
}

// IsUrgent reports whether a defect should also be raised as an alarm
func IsUrgent(s model.Severity) bool {
	return s.Rank() >= model.SeverityHigh.Rank()
}

// newMessage converts a bus event into its wire form
func newMessage(event events.Event) Message {
	msg := Message{
		Kind:      event.GetKind(),
		SessionID: event.GetSessionID(),
		Timestamp: event.GetTimestamp().UTC(),
	}
	switch e := event.(type) {
	case events.DefectEvent:
		d := e.Defect
		msg.ProjectName = e.ProjectName
		msg.Defect = &d
	case events.SessionEvent:
		msg.ProjectName = e.ProjectName
		msg.Status = e.Status
		msg.OperatorID = e.OperatorID
	}
	return msg
}

func encode(event events.Event) ([]byte, error) {
	return json.Marshal(newMessage(event))
}
