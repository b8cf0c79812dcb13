package engine

import "time"

// Gap detection over daily bars

// Gap is a stretch of missing weekdays between two consecutive bars
type Gap struct {
	Instrument string    `json:"instrument"`
	After      time.Time `json:"after"`
	Before     time.Time `json:"before"`
	Weekdays   int       `json:"missing_weekdays"`
}

// DetectGaps reports holes of more than maxMissing weekdays between
// consecutive bars. Weekends are never counted, so an ordinary Friday to
// Monday step is not a gap.
func DetectGaps(instrument string, bars []Bar, maxMissing int) []Gap {
	var gaps []Gap
	for i := 1; i < len(bars); i++ {
		prev, cur := Day(bars[i-1].Date), Day(bars[i].Date)
		missing := 0
		for d := prev.AddDate(0, 0, 1); d.Before(cur); d = d.AddDate(0, 0, 1) {
			if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
				missing++
			}
		}
		if missing > maxMissing {
			gaps = append(gaps, Gap{Instrument: instrument, After: prev, Before: cur, Weekdays: missing})
		}
	}
	return gaps
}
