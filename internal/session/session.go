// Package session defines the proctoring session aggregate and its
// embedded behavioral events.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a class of behavioral anomaly reported by the
// client-side detector.
type EventType string

const (
	EventLookingAway        EventType = "looking_away"
	EventUserAbsent         EventType = "user_absent"
	EventMultipleFaces      EventType = "multiple_faces"
	EventSuspiciousObject   EventType = "suspicious_object"
	EventDrowsinessDetected EventType = "drowsiness_detected"
	EventBackgroundVoice    EventType = "background_voice"
)

// Meta is the open-ended detail bag attached to an event. Values are
// restricted to scalars (string, number, bool); nested structures are
// rejected at decode time.
type Meta map[string]any

// UnmarshalJSON decodes the bag and enforces the scalar-only constraint.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Meta, len(raw))
	for key, val := range raw {
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		switch v.(type) {
		case string, float64, bool, nil:
			out[key] = v
		default:
			return fmt.Errorf("meta field %q: expected scalar value", key)
		}
	}
	*m = out
	return nil
}

// Event is one observed anomaly inside a session.
type Event struct {
	Type       EventType `json:"type" bson:"type"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	DurationMs int64     `json:"durationMs,omitempty" bson:"durationMs,omitempty"`
	Meta       Meta      `json:"meta,omitempty" bson:"meta,omitempty"`
}

// Validate checks structural well-formedness. Unrecognized types pass:
// they are accepted at ingestion and contribute nothing to the score.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.DurationMs < 0 {
		return fmt.Errorf("event durationMs must be non-negative, got %d", e.DurationMs)
	}
	return nil
}

// Session is the single mutable aggregate: one proctored interview,
// owning its ordered event log.
type Session struct {
	ID             string     `json:"id" bson:"_id"`
	CandidateName  string     `json:"candidateName" bson:"candidateName"`
	CandidateEmail string     `json:"candidateEmail" bson:"candidateEmail"`
	InterviewerID  string     `json:"interviewerId" bson:"interviewerId"`
	CandidateID    string     `json:"candidateId,omitempty" bson:"candidateId,omitempty"`
	StartTime      time.Time  `json:"startTime" bson:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty" bson:"endTime,omitempty"`
	VideoURL       string     `json:"videoUrl,omitempty" bson:"videoUrl,omitempty"`
	ReportURL      string     `json:"reportUrl,omitempty" bson:"reportUrl,omitempty"`
	Events         []Event    `json:"events" bson:"events"`
	IntegrityScore *int       `json:"integrityScore,omitempty" bson:"integrityScore,omitempty"`

	// Version backs optimistic concurrency in the store; it is not part
	// of the API payload.
	Version int64 `json:"-" bson:"version"`
}

// Claimed reports whether a candidate has bound themselves to the session.
func (s *Session) Claimed() bool { return s.CandidateID != "" }

// Ended reports whether the interview has been closed.
func (s *Session) Ended() bool { return s.EndTime != nil }

// Duration returns the wall-clock span of the session, or zero when it
// has not ended.
func (s *Session) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
