package store

// Message is an ingested gateway message. Timestamps are unix milliseconds.
type Message struct {
	ID         int64
	MsgID      string
	ChatID     string
	ChatName   string
	SenderID   string
	SenderName string
	Body       string
	Outbound   bool
	IsGroup    bool
	Timestamp  int64
}

// Run statuses. A run starts as running and is finalized exactly once.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// Run trigger kinds.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Run is the persisted record of one pipeline execution. Report holds the
// rendered text so a failed delivery can be resent manually.
type Run struct {
	RunID           string
	Trigger         string
	Status          string
	StartedAt       int64
	FinishedAt      int64
	WindowStart     int64
	WindowEnd       int64
	MessageCount    int
	UnansweredCount int
	RankedCount     int
	ErrorDetail     string
	Report          string
}
