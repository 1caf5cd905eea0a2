package recognizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"ctscribe/internal/services"
)

// EventKind names a recognizer lifecycle event.
type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventRecognized     EventKind = "recognized"
	EventNoMatch        EventKind = "no_match"
	EventCanceled       EventKind = "canceled"
	EventSessionStopped EventKind = "session_stopped"
)

// Event is one line of recognizer output.
type Event struct {
	Kind EventKind `json:"event"`
	// Offset and Duration locate a recognized utterance, in ticks.
	Offset   int64        `json:"offset,omitempty"`
	Duration int64        `json:"duration,omitempty"`
	NBest    []Hypothesis `json:"nbest,omitempty"`

	Reason       string `json:"reason,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// Hypothesis is one ranked recognition candidate. Words are kept raw so a
// single malformed entry can be skipped without losing the utterance.
type Hypothesis struct {
	Confidence float64           `json:"confidence"`
	Display    string            `json:"display"`
	Words      []json.RawMessage `json:"words"`
}

// ParseEvent decodes one JSON line.
func ParseEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("decode recognizer event: %w", err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("decode recognizer event: missing event kind")
	}
	return ev, nil
}

// Cancellation describes why the recognizer ended a session early.
type Cancellation struct {
	Reason  string
	Code    string
	Details string
}

// Err converts an error cancellation into a classified error. End-of-stream
// cancellations are normal completion and return nil.
func (c *Cancellation) Err() error {
	if c == nil || !strings.EqualFold(c.Reason, "error") {
		return nil
	}
	marker := services.ErrExternalTool
	switch strings.ToLower(c.Code) {
	case "authenticationfailure", "forbidden", "badrequest":
		marker = services.ErrConfiguration
	case "toomanyrequests", "serviceunavailable", "serviceerror", "connectionfailure", "servicetimeout":
		marker = services.ErrTransient
	}
	msg := "canceled with " + c.Code
	if c.Details != "" {
		msg += ": " + c.Details
	}
	return services.Wrap(marker, "recognize", "session", msg, nil)
}
