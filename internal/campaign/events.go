package campaign

import "time"

// EventKind identifies a progress event.
type EventKind string

const (
	// EventConnecting is emitted once before the SMTP session is
	// opened.
	EventConnecting EventKind = "connecting"

	// EventConnected is emitted once the session is ready.
	EventConnected EventKind = "connected"

	// EventSending is emitted before each delivery attempt.
	EventSending EventKind = "sending"

	// EventOutcome carries the terminal result of one job.
	EventOutcome EventKind = "outcome"

	// EventDone is the final event of every run and carries the
	// summary.
	EventDone EventKind = "done"
)

// Event is one entry in the ordered progress stream. Outcome is set
// for EventOutcome events, Run for EventDone.
type Event struct {
	Kind      EventKind
	JobIndex  int
	Recipient string
	Outcome   *Outcome
	Run       *Run
	Time      time.Time
}
