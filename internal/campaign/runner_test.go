package campaign

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mailrun/mailrun/internal/message"
	"github.com/mailrun/mailrun/internal/smtp"
)

// fakeSMTP scripts dial and send behavior for runner tests. Dials and
// send attempts are numbered from 1; the error maps inject failures
// for specific attempts.
type fakeSMTP struct {
	mu       sync.Mutex
	dials    int
	closes   int
	sends    []fakeSend
	dialErrs map[int]error
	sendErrs map[int]error
}

type fakeSend struct {
	session int
	from    string
	rcpts   []string
}

func newFakeSMTP() *fakeSMTP {
	return &fakeSMTP{
		dialErrs: make(map[int]error),
		sendErrs: make(map[int]error),
	}
}

func (f *fakeSMTP) dial(ctx context.Context) (Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dials++
	if err := f.dialErrs[f.dials]; err != nil {
		return nil, err
	}
	return &fakeConn{smtp: f, session: f.dials}, nil
}

func (f *fakeSMTP) send(session int, from string, rcpts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sends = append(f.sends, fakeSend{
		session: session,
		from:    from,
		rcpts:   append([]string(nil), rcpts...),
	})
	return f.sendErrs[len(f.sends)]
}

func (f *fakeSMTP) counts() (dials, closes, sends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials, f.closes, len(f.sends)
}

type fakeConn struct {
	smtp    *fakeSMTP
	session int
}

func (c *fakeConn) Send(ctx context.Context, from string, rcpts []string, msg []byte) error {
	return c.smtp.send(c.session, from, rcpts)
}

func (c *fakeConn) Close() error {
	c.smtp.mu.Lock()
	defer c.smtp.mu.Unlock()
	c.smtp.closes++
	return nil
}

type stubComposer struct {
	err error
}

func (c *stubComposer) Build(msg *message.Message) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []byte("Subject: " + msg.Subject + "\r\n\r\n" + msg.Body + "\r\n"), nil
}

func tempErr() error {
	return &smtp.Error{Op: smtp.OpData, Temporary: true, Message: "451 connection reset"}
}

func permErr() error {
	return &smtp.Error{Op: smtp.OpRcpt, Temporary: false, Message: "550 user unknown"}
}

func connErr() error {
	return &smtp.Error{Op: smtp.OpDial, Temporary: true, Message: "connection refused"}
}

func authErr() error {
	return &smtp.Error{Op: smtp.OpAuth, Temporary: false, Message: "535 authentication failed"}
}

func newTestRunner(f *fakeSMTP, delay time.Duration) *Runner {
	return NewRunner(Config{
		Dial:     f.dial,
		Composer: &stubComposer{},
		From:     "sender@example.com",
		Delay:    delay,
	})
}

func simpleJobs(rcpts ...string) []SendJob {
	jobs := make([]SendJob, len(rcpts))
	for i, r := range rcpts {
		jobs[i] = SendJob{Recipient: r, Subject: "s", Body: "b"}
	}
	return jobs
}

// collect drains the event stream and returns it along with the run
// summary from the final done event.
func collect(t *testing.T, events <-chan Event) ([]Event, *Run) {
	t.Helper()

	var all []Event
	for e := range events {
		all = append(all, e)
	}
	if len(all) == 0 {
		t.Fatal("no events received")
	}

	last := all[len(all)-1]
	if last.Kind != EventDone {
		t.Fatalf("last event = %q, want %q", last.Kind, EventDone)
	}
	if last.Run == nil {
		t.Fatal("done event has no run summary")
	}
	return all, last.Run
}

// checkInvariants verifies the properties every run must satisfy:
// exactly one outcome per job in ascending order, counters that sum to
// the job total, and the done event last.
func checkInvariants(t *testing.T, events []Event, run *Run, totalJobs int) {
	t.Helper()

	if run.TotalJobs != totalJobs {
		t.Errorf("TotalJobs = %d, want %d", run.TotalJobs, totalJobs)
	}
	if got := run.Succeeded + run.Failed + run.Cancelled; got != totalJobs {
		t.Errorf("Succeeded+Failed+Cancelled = %d, want %d", got, totalJobs)
	}
	if len(run.Outcomes) != totalJobs {
		t.Errorf("len(Outcomes) = %d, want %d", len(run.Outcomes), totalJobs)
	}

	next := 0
	for _, e := range events {
		if e.Kind != EventOutcome {
			continue
		}
		if e.Outcome == nil {
			t.Fatal("outcome event has no outcome")
		}
		if e.Outcome.JobIndex != next {
			t.Errorf("outcome order broken: got index %d, want %d", e.Outcome.JobIndex, next)
		}
		next++
	}
	if next != totalJobs {
		t.Errorf("saw %d outcome events, want %d", next, totalJobs)
	}
}

func TestRunAllSuccess(t *testing.T) {
	f := newFakeSMTP()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com", "b@example.com", "c@example.com")))
	checkInvariants(t, events, run, 3)

	if run.Succeeded != 3 || run.Failed != 0 || run.Cancelled != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/0/0", run.Succeeded, run.Failed, run.Cancelled)
	}
	if run.Err != nil {
		t.Errorf("Run.Err = %v, want nil", run.Err)
	}

	dials, closes, sends := f.counts()
	if dials != 1 {
		t.Errorf("dials = %d, want 1 (session must be shared)", dials)
	}
	if closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
	if sends != 3 {
		t.Errorf("sends = %d, want 3", sends)
	}

	// The stream starts with the connection handshake events.
	if events[0].Kind != EventConnecting || events[1].Kind != EventConnected {
		t.Errorf("stream starts with %q, %q", events[0].Kind, events[1].Kind)
	}

	// Each send event precedes its outcome.
	kinds := []EventKind{}
	for _, e := range events {
		if e.Kind == EventSending || e.Kind == EventOutcome {
			kinds = append(kinds, e.Kind)
		}
	}
	for i := 0; i < len(kinds); i += 2 {
		if kinds[i] != EventSending || kinds[i+1] != EventOutcome {
			t.Fatalf("sending/outcome pairing broken: %v", kinds)
		}
	}

	if f.sends[0].from != "sender@example.com" {
		t.Errorf("envelope from = %q", f.sends[0].from)
	}
}

func TestRunEmptyJobList(t *testing.T) {
	f := newFakeSMTP()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), nil))
	checkInvariants(t, events, run, 0)

	if len(events) != 1 {
		t.Errorf("expected only the done event, got %d events", len(events))
	}
	if dials, _, _ := f.counts(); dials != 0 {
		t.Errorf("dials = %d, want 0 for empty campaign", dials)
	}
}

func TestRunDialFailure(t *testing.T) {
	f := newFakeSMTP()
	f.dialErrs[1] = connErr()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com", "b@example.com")))
	checkInvariants(t, events, run, 2)

	if run.Err == nil {
		t.Error("Run.Err not set after dial failure")
	}
	if run.Failed != 2 || run.Succeeded != 0 {
		t.Errorf("counts = %d/%d, want 0 succeeded 2 failed", run.Succeeded, run.Failed)
	}
	for _, o := range run.Outcomes {
		if o.ErrorKind != ErrorConnection {
			t.Errorf("outcome %d kind = %q, want %q", o.JobIndex, o.ErrorKind, ErrorConnection)
		}
	}

	dials, _, sends := f.counts()
	if dials != 1 || sends != 0 {
		t.Errorf("dials=%d sends=%d, want 1 and 0", dials, sends)
	}
	for _, e := range events {
		if e.Kind == EventConnected {
			t.Error("connected event emitted after dial failure")
		}
	}
}

func TestRunAuthFailure(t *testing.T) {
	f := newFakeSMTP()
	f.dialErrs[1] = authErr()
	r := newTestRunner(f, 0)

	_, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com")))

	if run.Outcomes[0].ErrorKind != ErrorAuthentication {
		t.Errorf("kind = %q, want %q", run.Outcomes[0].ErrorKind, ErrorAuthentication)
	}
}

func TestRunInvalidRecipient(t *testing.T) {
	f := newFakeSMTP()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com", "", "c@example.com")))
	checkInvariants(t, events, run, 3)

	if run.Succeeded != 2 || run.Failed != 1 {
		t.Errorf("counts = %d/%d, want 2 succeeded 1 failed", run.Succeeded, run.Failed)
	}
	if run.Outcomes[1].ErrorKind != ErrorInvalidRecipient {
		t.Errorf("kind = %q, want %q", run.Outcomes[1].ErrorKind, ErrorInvalidRecipient)
	}

	// Validation must not touch the connection.
	dials, _, sends := f.counts()
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
	if sends != 2 {
		t.Errorf("sends = %d, want 2", sends)
	}
}

func TestRunMissingAttachment(t *testing.T) {
	f := newFakeSMTP()
	r := NewRunner(Config{
		Dial:     f.dial,
		Composer: message.NewBuilder("test.local", nil),
		From:     "sender@example.com",
	})

	jobs := simpleJobs("a@example.com", "b@example.com", "c@example.com")
	jobs[1].Attachments = []string{filepath.Join(t.TempDir(), "missing.pdf")}

	events, run := collect(t, r.Start(context.Background(), jobs))
	checkInvariants(t, events, run, 3)

	if run.Succeeded != 2 || run.Failed != 1 {
		t.Errorf("counts = %d/%d, want 2 succeeded 1 failed", run.Succeeded, run.Failed)
	}
	if run.Outcomes[1].ErrorKind != ErrorAttachmentNotFound {
		t.Errorf("kind = %q, want %q", run.Outcomes[1].ErrorKind, ErrorAttachmentNotFound)
	}
	if _, _, sends := f.counts(); sends != 2 {
		t.Errorf("sends = %d, want 2", sends)
	}
}

func TestRunTransientRetrySucceeds(t *testing.T) {
	f := newFakeSMTP()
	f.sendErrs[1] = tempErr()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com", "b@example.com")))
	checkInvariants(t, events, run, 2)

	if run.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2 (retry should recover)", run.Succeeded)
	}

	dials, _, sends := f.counts()
	if dials != 2 {
		t.Errorf("dials = %d, want 2 (one reconnect)", dials)
	}
	if sends != 3 {
		t.Errorf("sends = %d, want 3 (failed attempt plus retry plus second job)", sends)
	}

	// The second job must reuse the reconnected session.
	if f.sends[2].session != 2 {
		t.Errorf("second job used session %d, want 2", f.sends[2].session)
	}
}

func TestRunPermanentFailureNoRetry(t *testing.T) {
	f := newFakeSMTP()
	f.sendErrs[1] = permErr()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com", "b@example.com")))
	checkInvariants(t, events, run, 2)

	if run.Failed != 1 || run.Succeeded != 1 {
		t.Errorf("counts = %d/%d, want 1 succeeded 1 failed", run.Succeeded, run.Failed)
	}
	if run.Outcomes[0].ErrorKind != ErrorNetwork {
		t.Errorf("kind = %q, want %q", run.Outcomes[0].ErrorKind, ErrorNetwork)
	}

	dials, _, sends := f.counts()
	if dials != 1 {
		t.Errorf("dials = %d, want 1 (permanent rejection must not reconnect)", dials)
	}
	if sends != 2 {
		t.Errorf("sends = %d, want 2", sends)
	}
	// The session survives a permanent rejection.
	if f.sends[1].session != 1 {
		t.Errorf("second job used session %d, want 1", f.sends[1].session)
	}
}

func TestRunRetryFailsOnce(t *testing.T) {
	f := newFakeSMTP()
	f.sendErrs[1] = tempErr()
	f.sendErrs[2] = tempErr()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com", "b@example.com")))
	checkInvariants(t, events, run, 2)

	if run.Outcomes[0].Kind != OutcomeFailure || run.Outcomes[0].ErrorKind != ErrorNetwork {
		t.Errorf("first job outcome = %+v, want network failure", run.Outcomes[0])
	}
	if run.Outcomes[1].Kind != OutcomeSuccess {
		t.Errorf("second job outcome = %+v, want success", run.Outcomes[1])
	}

	// One reconnect for the retry, one session restore for the next
	// job, and never more: the retry happens exactly once.
	dials, _, sends := f.counts()
	if dials != 3 {
		t.Errorf("dials = %d, want 3", dials)
	}
	if sends != 3 {
		t.Errorf("sends = %d, want 3 (two attempts for first job, one for second)", sends)
	}
}

func TestRunReconnectFailure(t *testing.T) {
	f := newFakeSMTP()
	f.sendErrs[1] = tempErr()
	f.dialErrs[2] = connErr()
	r := newTestRunner(f, 0)

	events, run := collect(t, r.Start(context.Background(), simpleJobs("a@example.com", "b@example.com")))
	checkInvariants(t, events, run, 2)

	if run.Outcomes[0].Kind != OutcomeFailure {
		t.Errorf("first job = %+v, want failure after reconnect failed", run.Outcomes[0])
	}
	if run.Err != nil {
		t.Errorf("Run.Err = %v, a mid-run reconnect failure is not a run-level error", run.Err)
	}
	if run.Outcomes[1].Kind != OutcomeSuccess {
		t.Errorf("second job = %+v, want success on restored session", run.Outcomes[1])
	}

	dials, _, sends := f.counts()
	if dials != 3 {
		t.Errorf("dials = %d, want 3", dials)
	}
	if sends != 2 {
		t.Errorf("sends = %d, want 2", sends)
	}
}

func TestRunCancelBeforeStart(t *testing.T) {
	f := newFakeSMTP()
	r := newTestRunner(f, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, run := collect(t, r.Start(ctx, simpleJobs("a@example.com", "b@example.com")))
	checkInvariants(t, events, run, 2)

	if !run.CancelRequested {
		t.Error("CancelRequested not set")
	}
	if run.Cancelled != 2 {
		t.Errorf("Cancelled = %d, want 2", run.Cancelled)
	}
	for _, o := range run.Outcomes {
		if o.Kind != OutcomeCancelled || !errors.Is(o.Err, ErrCancelled) {
			t.Errorf("outcome %d = %+v, want cancelled", o.JobIndex, o)
		}
	}

	if dials, _, _ := f.counts(); dials != 0 {
		t.Errorf("dials = %d, want 0 when cancelled before start", dials)
	}
}

func TestRunCancelDuringDelay(t *testing.T) {
	f := newFakeSMTP()
	r := newTestRunner(f, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := r.Start(ctx, simpleJobs("a@example.com", "b@example.com", "c@example.com"))

	var events []Event
	for e := range stream {
		events = append(events, e)
		if e.Kind == EventOutcome && e.JobIndex == 0 {
			// First delivery finished; the runner is now in its
			// inter-send pause.
			cancel()
		}
	}

	last := events[len(events)-1]
	if last.Kind != EventDone || last.Run == nil {
		t.Fatalf("last event = %q, want done with summary", last.Kind)
	}
	run := last.Run
	checkInvariants(t, events, run, 3)

	if !run.CancelRequested {
		t.Error("CancelRequested not set")
	}
	if run.Succeeded != 1 || run.Cancelled != 2 {
		t.Errorf("counts = %d succeeded / %d cancelled, want 1/2", run.Succeeded, run.Cancelled)
	}

	dials, closes, sends := f.counts()
	if dials != 1 || sends != 1 {
		t.Errorf("dials=%d sends=%d, want 1 and 1", dials, sends)
	}
	if closes != 1 {
		t.Errorf("closes = %d, want 1 (session must be closed on cancel)", closes)
	}
}

func TestRunBuffersAllEventsWithoutConsumer(t *testing.T) {
	f := newFakeSMTP()
	r := newTestRunner(f, 0)

	// Do not read until well after the run finished; the runner must
	// complete into the buffer without blocking.
	stream := r.Start(context.Background(), simpleJobs("a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"))
	time.Sleep(300 * time.Millisecond)

	events, run := collect(t, stream)
	checkInvariants(t, events, run, 5)
	if run.Succeeded != 5 {
		t.Errorf("Succeeded = %d, want 5", run.Succeeded)
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	r := NewRunner(Config{Delay: time.Second, Jitter: true})

	lo, hi := 800*time.Millisecond, 1200*time.Millisecond
	seen := make(map[time.Duration]bool)
	for i := 0; i < 1000; i++ {
		d := r.nextDelay()
		if d < lo || d > hi {
			t.Fatalf("nextDelay() = %v, outside [%v, %v]", d, lo, hi)
		}
		if d != d.Round(time.Millisecond) {
			t.Fatalf("nextDelay() = %v, not millisecond-aligned", d)
		}
		seen[d] = true
	}
	if len(seen) < 10 {
		t.Errorf("only %d distinct delays in 1000 draws, jitter looks broken", len(seen))
	}
}

func TestNextDelayFixed(t *testing.T) {
	r := NewRunner(Config{Delay: 250 * time.Millisecond})

	for i := 0; i < 10; i++ {
		if d := r.nextDelay(); d != 250*time.Millisecond {
			t.Fatalf("nextDelay() = %v, want exactly 250ms", d)
		}
	}

	if d := NewRunner(Config{}).nextDelay(); d != 0 {
		t.Errorf("nextDelay() with no delay = %v, want 0", d)
	}
}
