package engine

import "time"

// One-position replay assembled from the event log

type DecisionState struct {
	Date    time.Time         `json:"date"`
	Event   EventType         `json:"event"`
	Details map[string]string `json:"details,omitempty"`
}

type TradeReplay struct {
	PositionID string          `json:"position_id"`
	Instrument string          `json:"instrument"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	Decisions  []DecisionState `json:"decisions"`
	Outcome    string          `json:"outcome"`
}

type ForensicsEngine struct {
	replays map[string]*TradeReplay
	order   []string
}

// NewForensicsEngine indexes every position-level event in the log.
func NewForensicsEngine(events []Event) *ForensicsEngine {
	fe := &ForensicsEngine{replays: make(map[string]*TradeReplay)}
	for _, ev := range events {
		if ev.PositionID == "" {
			continue
		}
		replay, exists := fe.replays[ev.PositionID]
		if !exists {
			replay = &TradeReplay{
				PositionID: ev.PositionID,
				Instrument: ev.Instrument,
				StartDate:  ev.Date,
			}
			fe.replays[ev.PositionID] = replay
			fe.order = append(fe.order, ev.PositionID)
		}
		replay.Decisions = append(replay.Decisions, DecisionState{Date: ev.Date, Event: ev.Type, Details: ev.Details})
		switch ev.Type {
		case EventStopHit, EventExitSignal, EventEndOfData:
			replay.EndDate = ev.Date
			replay.Outcome = ev.Type.String()
		}
	}
	return fe
}

func (fe *ForensicsEngine) GetReplay(positionID string) (*TradeReplay, bool) {
	replay, exists := fe.replays[positionID]
	return replay, exists
}

// Replays returns every replay in the order positions were opened.
func (fe *ForensicsEngine) Replays() []*TradeReplay {
	out := make([]*TradeReplay, 0, len(fe.order))
	for _, id := range fe.order {
		out = append(out, fe.replays[id])
	}
	return out
}

// ExplainExit describes why a closed position ended.
func ExplainExit(replay *TradeReplay) string {
	switch replay.Outcome {
	case "":
		return "Position still open"
	case EventStopHit.String():
		return "Low traded through the stop at " + replay.Decisions[len(replay.Decisions)-1].Details["price"]
	case EventExitSignal.String():
		return "Close fell below the exit channel"
	case EventEndOfData.String():
		return "Data ended with the position open"
	}
	return "Unable to determine exit reason"
}
