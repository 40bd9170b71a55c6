package ingest

// Status is the result category of one event.
type Status int

const (
	StatusIngested Status = iota
	StatusSkippedNoPosition
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIngested:
		return "ingested"
	case StatusSkippedNoPosition:
		return "skipped_no_position"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is reported for every event handed to an Ingester.
type Outcome struct {
	Status Status
	Hex    string
	Err    error
}

// Metrics receives per-event counts.
type Metrics interface {
	Ingested()
	Skipped()
	Failed(step string)
}

// NopMetrics discards all counts.
type NopMetrics struct{}

func (NopMetrics) Ingested()     {}
func (NopMetrics) Skipped()      {}
func (NopMetrics) Failed(string) {}
