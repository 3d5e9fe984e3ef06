package threshold

import "fmt"

// Record is one failed message send, surfaced in the run report. Appended,
// never mutated.
type Record struct {
	Channel string
	TS      string
	Reason  string
}

// Monitor accumulates failure records and decides when a channel's failure
// rate has crossed the configured maximum. Crossing the threshold flags the
// channel; it never stops message replay.
type Monitor struct {
	maxPercent int
	records    []Record
}

func NewMonitor(maxPercent int) *Monitor {
	return &Monitor{maxPercent: maxPercent}
}

// RecordFailure appends one failure.
func (m *Monitor) RecordFailure(channel, ts string, err error) {
	m.records = append(m.records, Record{
		Channel: channel,
		TS:      ts,
		Reason:  fmt.Sprintf("%v", err),
	})
}

// Records returns all failures accumulated so far.
func (m *Monitor) Records() []Record {
	return m.records
}

// Exceeded reports whether the running failure percentage is above the
// configured maximum.
func (m *Monitor) Exceeded(processed, failed int) bool {
	return failed > 0 && Percentage(processed, failed) > float64(m.maxPercent)
}

// Percentage computes failed / (processed + failed) * 100, guarded against
// division by zero: zero attempts is 0%, failures with nothing processed
// is 100%.
func Percentage(processed, failed int) float64 {
	total := processed + failed
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total) * 100
}
