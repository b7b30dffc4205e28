package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mailrun/mailrun/internal/email"
	"github.com/mailrun/mailrun/internal/message"
	"github.com/mailrun/mailrun/internal/metrics"
	"github.com/mailrun/mailrun/internal/smtp"
)

// ErrCancelled marks jobs that were skipped because the campaign was
// cancelled.
var ErrCancelled = errors.New("campaign cancelled")

// jitter bounds for the inter-send delay
const (
	jitterMin = 0.8
	jitterMax = 1.2
)

// Sender is a live SMTP session.
type Sender interface {
	Send(ctx context.Context, from string, recipients []string, msg []byte) error
	Close() error
}

// Dialer opens a new SMTP session.
type Dialer func(ctx context.Context) (Sender, error)

// Composer renders an outgoing message into wire-ready bytes.
type Composer interface {
	Build(msg *message.Message) ([]byte, error)
}

// Config wires a campaign runner.
type Config struct {
	Dial     Dialer
	Composer Composer

	// From is the sender address used for the envelope and the From
	// header of every message.
	From string

	// Delay is the pause between consecutive jobs. Zero disables
	// pausing.
	Delay time.Duration

	// Jitter randomizes each pause by +-20% so deliveries do not
	// tick at an exact interval.
	Jitter bool

	Logger *slog.Logger
}

// Runner executes campaigns one job at a time over a shared SMTP
// session.
type Runner struct {
	dial         Dialer
	composer     Composer
	from         string
	envelopeFrom string
	delay        time.Duration
	jitter       bool
	logger       *slog.Logger
}

// NewRunner creates a campaign runner.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// The From header may carry a display name; the envelope needs the
	// bare addr-spec.
	envelopeFrom := cfg.From
	if addr, err := email.Normalize(cfg.From); err == nil {
		envelopeFrom = addr
	}

	return &Runner{
		dial:         cfg.Dial,
		composer:     cfg.Composer,
		from:         cfg.From,
		envelopeFrom: envelopeFrom,
		delay:        cfg.Delay,
		jitter:       cfg.Jitter,
		logger:       logger,
	}
}

// Start launches the campaign in a goroutine and returns its progress
// stream. The channel is buffered for the maximum number of events a
// run can produce, so the runner never blocks on a slow consumer. It
// is closed after the final done event.
//
// Cancel the context to stop the run; remaining jobs are reported as
// cancelled and the session is closed before the summary is emitted.
func (r *Runner) Start(ctx context.Context, jobs []SendJob) <-chan Event {
	events := make(chan Event, 2*len(jobs)+4)

	ex := &execution{
		runner: r,
		jobs:   jobs,
		events: events,
		run:    &Run{TotalJobs: len(jobs), StartedAt: time.Now()},
	}
	go ex.run(ctx)

	return events
}

// nextDelay returns the pause before the next job. With jitter enabled
// the configured delay is scaled by a uniform factor in
// [jitterMin, jitterMax] and rounded to the nearest millisecond.
func (r *Runner) nextDelay() time.Duration {
	if r.delay <= 0 {
		return 0
	}
	if !r.jitter {
		return r.delay
	}

	factor := jitterMin + rand.Float64()*(jitterMax-jitterMin)
	return time.Duration(factor * float64(r.delay)).Round(time.Millisecond)
}

// execution is the state of one campaign run.
type execution struct {
	runner *Runner
	jobs   []SendJob
	events chan<- Event
	run    *Run
	conn   Sender
}

func (ex *execution) run(ctx context.Context) {
	defer close(ex.events)
	defer func() {
		ex.run.FinishedAt = time.Now()
		ex.emit(Event{Kind: EventDone, Run: ex.run})
	}()

	if len(ex.jobs) == 0 {
		return
	}

	metrics.IncCampaigns()
	defer metrics.DecCampaignsActive()

	if ctx.Err() != nil {
		ex.run.CancelRequested = true
		ex.cancelFrom(0)
		return
	}

	ex.emit(Event{Kind: EventConnecting})
	conn, err := ex.runner.dial(ctx)
	if err != nil {
		ex.run.Err = err
		ex.runner.logger.Error("failed to open SMTP session", "error", err)
		ex.failAll(err)
		return
	}
	ex.conn = conn
	defer ex.closeConn()
	ex.emit(Event{Kind: EventConnected})

	last := len(ex.jobs) - 1
	for i := range ex.jobs {
		if ctx.Err() != nil {
			ex.run.CancelRequested = true
			ex.cancelFrom(i)
			return
		}

		job := &ex.jobs[i]
		ex.emit(Event{Kind: EventSending, JobIndex: i, Recipient: job.Recipient})

		outcome := ex.sendOne(ctx, i, job)
		ex.record(outcome)
		ex.emit(Event{Kind: EventOutcome, JobIndex: i, Recipient: job.Recipient, Outcome: outcome})

		if i < last && !ex.pause(ctx) {
			ex.run.CancelRequested = true
			ex.cancelFrom(i + 1)
			return
		}
	}
}

// sendOne delivers a single job. A transient transport failure closes
// the session, reconnects and retries the job exactly once; afterwards
// the job fails and the run moves on.
func (ex *execution) sendOne(ctx context.Context, idx int, job *SendJob) *Outcome {
	start := time.Now()
	result := func(kind OutcomeKind, errKind ErrorKind, err error) *Outcome {
		return &Outcome{
			JobIndex:  idx,
			Recipient: job.Recipient,
			Kind:      kind,
			ErrorKind: errKind,
			Err:       err,
			Timestamp: time.Now(),
			Elapsed:   time.Since(start),
		}
	}

	to, err := email.Normalize(job.Recipient)
	if err != nil {
		return result(OutcomeFailure, ErrorInvalidRecipient, fmt.Errorf("invalid recipient %q: %w", job.Recipient, err))
	}

	msg := &message.Message{
		From:        ex.runner.from,
		To:          to,
		Cc:          job.Cc,
		Bcc:         job.Bcc,
		Subject:     job.Subject,
		Body:        job.Body,
		Attachments: job.Attachments,
	}
	raw, err := ex.runner.composer.Build(msg)
	if err != nil {
		if message.IsAttachmentError(err) {
			return result(OutcomeFailure, ErrorAttachmentNotFound, err)
		}
		return result(OutcomeFailure, ErrorNetwork, err)
	}

	rcpts := msg.Recipients()

	// A previous job may have lost the session. Restore it before
	// attempting delivery.
	if ex.conn == nil {
		if err := ex.reconnect(ctx); err != nil {
			return result(OutcomeFailure, ErrorNetwork, fmt.Errorf("reconnect failed: %w", err))
		}
	}

	err = ex.conn.Send(ctx, ex.runner.envelopeFrom, rcpts, raw)
	if err == nil {
		return result(OutcomeSuccess, "", nil)
	}
	if !smtp.IsTemporaryError(err) {
		return result(OutcomeFailure, ErrorNetwork, err)
	}

	ex.runner.logger.Warn("send failed, reconnecting", "recipient", to, "error", err)
	metrics.IncReconnects()
	if err := ex.reconnect(ctx); err != nil {
		return result(OutcomeFailure, ErrorNetwork, fmt.Errorf("reconnect failed: %w", err))
	}

	if err := ex.conn.Send(ctx, ex.runner.envelopeFrom, rcpts, raw); err != nil {
		if smtp.IsTemporaryError(err) {
			// Session state is suspect; drop it so the next job
			// starts fresh.
			ex.closeConn()
		}
		return result(OutcomeFailure, ErrorNetwork, err)
	}
	return result(OutcomeSuccess, "", nil)
}

func (ex *execution) reconnect(ctx context.Context) error {
	ex.closeConn()
	conn, err := ex.runner.dial(ctx)
	if err != nil {
		return err
	}
	ex.conn = conn
	return nil
}

func (ex *execution) closeConn() {
	if ex.conn == nil {
		return
	}
	if err := ex.conn.Close(); err != nil {
		ex.runner.logger.Debug("failed to close SMTP session", "error", err)
	}
	ex.conn = nil
}

// pause waits the inter-send delay, returning false if the run was
// cancelled while waiting.
func (ex *execution) pause(ctx context.Context) bool {
	d := ex.runner.nextDelay()
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// failAll marks every job failed after the initial session could not
// be opened. No message was attempted.
func (ex *execution) failAll(cause error) {
	kind := ErrorConnection
	if smtp.IsAuthError(cause) {
		kind = ErrorAuthentication
	}

	for i := range ex.jobs {
		outcome := &Outcome{
			JobIndex:  i,
			Recipient: ex.jobs[i].Recipient,
			Kind:      OutcomeFailure,
			ErrorKind: kind,
			Err:       cause,
			Timestamp: time.Now(),
		}
		ex.record(outcome)
		ex.emit(Event{Kind: EventOutcome, JobIndex: i, Recipient: outcome.Recipient, Outcome: outcome})
	}
}

// cancelFrom reports every job from start onwards as cancelled, in
// order.
func (ex *execution) cancelFrom(start int) {
	for i := start; i < len(ex.jobs); i++ {
		outcome := &Outcome{
			JobIndex:  i,
			Recipient: ex.jobs[i].Recipient,
			Kind:      OutcomeCancelled,
			ErrorKind: ErrorCancelled,
			Err:       ErrCancelled,
			Timestamp: time.Now(),
		}
		ex.record(outcome)
		ex.emit(Event{Kind: EventOutcome, JobIndex: i, Recipient: outcome.Recipient, Outcome: outcome})
	}
}

func (ex *execution) record(o *Outcome) {
	ex.run.Outcomes = append(ex.run.Outcomes, *o)

	switch o.Kind {
	case OutcomeSuccess:
		ex.run.Succeeded++
		metrics.ObserveSendDuration(o.Elapsed.Seconds())
	case OutcomeFailure:
		ex.run.Failed++
		metrics.IncJobErrors(string(o.ErrorKind))
	case OutcomeCancelled:
		ex.run.Cancelled++
	}
	metrics.IncJobs(string(o.Kind))
}

func (ex *execution) emit(e Event) {
	e.Time = time.Now()
	ex.events <- e
}
