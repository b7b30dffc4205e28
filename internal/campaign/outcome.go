package campaign

import "time"

// OutcomeKind classifies how a job finished.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailure   OutcomeKind = "failure"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// ErrorKind classifies a failed or cancelled job for reporting.
type ErrorKind string

const (
	// ErrorConnection marks jobs failed because the initial SMTP
	// session could not be established.
	ErrorConnection ErrorKind = "connection"

	// ErrorAuthentication marks jobs failed because the server
	// rejected the credentials.
	ErrorAuthentication ErrorKind = "authentication"

	// ErrorNetwork marks transport failures while sending.
	ErrorNetwork ErrorKind = "network"

	// ErrorInvalidRecipient marks jobs whose recipient address is
	// empty or malformed.
	ErrorInvalidRecipient ErrorKind = "invalid_recipient"

	// ErrorAttachmentNotFound marks jobs whose attachment file could
	// not be read.
	ErrorAttachmentNotFound ErrorKind = "attachment_not_found"

	// ErrorCancelled marks jobs skipped because the campaign was
	// cancelled.
	ErrorCancelled ErrorKind = "cancelled"
)

// Outcome is the terminal result of one job. Every job produces
// exactly one outcome, reported in list order.
type Outcome struct {
	JobIndex  int
	Recipient string
	Kind      OutcomeKind
	ErrorKind ErrorKind
	Err       error
	Timestamp time.Time
	Elapsed   time.Duration
}

// Success reports whether the job was delivered.
func (o *Outcome) Success() bool {
	return o.Kind == OutcomeSuccess
}

// Run aggregates a finished campaign. Succeeded, Failed and Cancelled
// always sum to TotalJobs.
type Run struct {
	TotalJobs       int
	Succeeded       int
	Failed          int
	Cancelled       int
	CancelRequested bool
	StartedAt       time.Time
	FinishedAt      time.Time

	// Err is set when the campaign failed as a whole before any
	// message could be sent, such as a connection or login failure.
	Err error

	Outcomes []Outcome
}

// Elapsed returns the wall-clock duration of the run.
func (r *Run) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
