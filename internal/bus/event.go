package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core components. Subscribers filter by
// namespace prefix, e.g. "run." receives every run lifecycle event.
const (
	KindRunStarted      = "run.started"
	KindRunFinished     = "run.finished"
	KindMessagesIngest  = "ingest.messages"
	KindScheduleChanged = "schedule.state_changed"
	KindScheduleSkipped = "schedule.fire_skipped"
)
