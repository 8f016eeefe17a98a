package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"genpipe/internal/domain"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is one structured record decoded from a generation stream.
type Event struct {
	Type       EventType       `json:"type"`
	Phase      string          `json:"phase,omitempty"`
	Percentage float64         `json:"percentage,omitempty"`
	Message    string          `json:"message,omitempty"`
	ResultURL  string          `json:"resultUrl,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Terminal reports whether e ends the job it belongs to.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventComplete, EventResult, EventError:
		return true
	default:
		return false
	}
}

// wireEvent accepts both camelCase and snake_case result URLs.
type wireEvent struct {
	Type       EventType       `json:"type"`
	Phase      string          `json:"phase"`
	Percentage *float64        `json:"percentage"`
	Progress   *float64        `json:"progress"`
	Message    string          `json:"message"`
	ResultURL  string          `json:"resultUrl"`
	ResultURL2 string          `json:"result_url"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
}

// ParseFrame decodes one frame payload. Failures wrap domain.ErrMalformedFrame.
func ParseFrame(payload []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	ev := Event{
		Type:    EventType(strings.ToLower(strings.TrimSpace(string(w.Type)))),
		Phase:   strings.TrimSpace(w.Phase),
		Message: w.Message,
		Error:   w.Error,
	}
	switch ev.Type {
	case EventProgress:
		switch {
		case w.Percentage != nil:
			ev.Percentage = clampPercentage(*w.Percentage)
		case w.Progress != nil:
			ev.Percentage = clampPercentage(*w.Progress)
		}
	case EventResult:
		ev.ResultURL = strings.TrimSpace(w.ResultURL)
		if ev.ResultURL == "" {
			ev.ResultURL = strings.TrimSpace(w.ResultURL2)
		}
		if len(w.Payload) > 0 && string(w.Payload) != "null" {
			ev.Payload = append(json.RawMessage(nil), w.Payload...)
		}
	case EventComplete:
	case EventError:
		if strings.TrimSpace(ev.Error) == "" {
			ev.Error = ev.Message
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown event type %q", domain.ErrMalformedFrame, w.Type)
	}
	return ev, nil
}

func clampPercentage(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Encode writes ev as a single frame followed by a blank line.
func Encode(w io.Writer, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s %s\n\n", DefaultPrefix, raw); err != nil {
		return fmt.Errorf("stream: write event: %w", err)
	}
	return nil
}
