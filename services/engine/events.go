package engine

import (
	"fmt"
	"time"
)

type EventType int

const (
	EventEntry EventType = iota
	EventPyramid
	EventStopHit
	EventExitSignal
	EventEndOfData
	EventRoll
	EventSizingSkip
	EventRollNoOp
)

var eventNames = map[EventType]string{
	EventEntry:      "entry",
	EventPyramid:    "pyramid",
	EventStopHit:    "stop_hit",
	EventExitSignal: "exit_signal",
	EventEndOfData:  "end_of_data",
	EventRoll:       "roll",
	EventSizingSkip: "sizing_skip",
	EventRollNoOp:   "roll_noop",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EventType) UnmarshalText(b []byte) error {
	for k, v := range eventNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", b)
}

type Event struct {
	Date       time.Time         `json:"date"`
	Type       EventType         `json:"type"`
	Instrument string            `json:"instrument"`
	PositionID string            `json:"position_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// EventLog is append-only; the engine writes it in simulation order.
type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

// Count returns how many events of the given type were logged.
func (l *EventLog) Count(t EventType) int {
	n := 0
	for _, e := range l.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}
