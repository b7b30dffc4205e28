package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailrun/mailrun/internal/campaign"
	"github.com/mailrun/mailrun/internal/config"
	"github.com/mailrun/mailrun/internal/dkim"
	"github.com/mailrun/mailrun/internal/email"
	"github.com/mailrun/mailrun/internal/message"
	"github.com/mailrun/mailrun/internal/metrics"
	"github.com/mailrun/mailrun/internal/recipients"
	"github.com/mailrun/mailrun/internal/smtp"
)

var (
	sendSubject     string
	sendBody        string
	sendBodyFile    string
	sendAttachments []string
	sendCc          []string
	sendBcc         []string
	sendDelay       time.Duration
	sendJitter      bool
	sendDryRun      bool
	sendYes         bool
)

var sendCmd = &cobra.Command{
	Use:   "send <recipients.csv>",
	Short: "Send a campaign to every recipient in a CSV file",
	Long: `Send one message per row of the recipient list over a single SMTP
connection. Per-row subject, body and attachment columns override the
campaign defaults; {{column}} placeholders in the subject and body are
filled from the row.

Press Ctrl-C to cancel a running campaign: the message in flight
completes, remaining recipients are reported as cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "Default subject for rows without one")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "Default body for rows without one")
	sendCmd.Flags().StringVar(&sendBodyFile, "body-file", "", "Read the default body from a file")
	sendCmd.Flags().StringSliceVar(&sendAttachments, "attach", nil, "Attachment for every message (repeatable)")
	sendCmd.Flags().StringSliceVar(&sendCc, "cc", nil, "Cc address for every message (repeatable)")
	sendCmd.Flags().StringSliceVar(&sendBcc, "bcc", nil, "Bcc address for every message (repeatable)")
	sendCmd.Flags().DurationVar(&sendDelay, "delay", 0, "Pause between sends (overrides config)")
	sendCmd.Flags().BoolVar(&sendJitter, "jitter", true, "Randomize each pause by +-20%")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Validate the campaign without connecting")
	sendCmd.Flags().BoolVarP(&sendYes, "yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applySendFlags(cmd, cfg)

	if sendBodyFile != "" {
		data, err := os.ReadFile(sendBodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		cfg.Send.DefaultBody = string(data)
	}

	rows, err := recipients.Load(args[0])
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("recipient list %s has no rows", args[0])
	}

	cc, err := email.NormalizeList(splitAddressLists(cfg.Send.Cc))
	if err != nil {
		return fmt.Errorf("invalid cc address: %w", err)
	}
	bcc, err := email.NormalizeList(splitAddressLists(cfg.Send.Bcc))
	if err != nil {
		return fmt.Errorf("invalid bcc address: %w", err)
	}

	jobs := campaign.BuildJobs(rows, campaign.Options{
		DefaultSubject: cfg.Send.DefaultSubject,
		DefaultBody:    cfg.Send.DefaultBody,
		Cc:             cc,
		Bcc:            bcc,
		Attachments:    cfg.Send.Attachments,
	})

	if sendDryRun {
		return dryRun(jobs)
	}

	if !sendYes && !confirm(len(jobs), cfg) {
		fmt.Println("Aborted.")
		return nil
	}

	password, err := resolvePassword(cfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	var signer *dkim.Signer
	if cfg.DKIM.Enabled {
		signer, err = dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return err
		}
	}

	shutdownMetrics := startMetrics(cfg, logger)
	defer shutdownMetrics()

	smtpCfg := smtpConfig(cfg, password)
	builder := message.NewBuilder(email.ExtractDomainOrDefault(cfg.SMTP.From, ""), signer)

	runner := campaign.NewRunner(campaign.Config{
		Dial: func(ctx context.Context) (campaign.Sender, error) {
			return smtp.Dial(ctx, smtpCfg, logger)
		},
		Composer: builder,
		From:     cfg.SMTP.From,
		Delay:    cfg.Send.Delay,
		Jitter:   cfg.Send.JitterEnabled(),
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := renderProgress(ctx, stop, runner.Start(ctx, jobs), len(jobs), cfg)

	printSummary(run)

	if run.Err != nil {
		return fmt.Errorf("campaign failed: %w", run.Err)
	}
	if run.Failed > 0 {
		return fmt.Errorf("%d of %d messages failed", run.Failed, run.TotalJobs)
	}
	return nil
}

// applySendFlags copies explicitly set flags over the loaded config so
// the config file only provides defaults.
func applySendFlags(cmd *cobra.Command, cfg *config.Config) {
	if sendSubject != "" {
		cfg.Send.DefaultSubject = sendSubject
	}
	if sendBody != "" {
		cfg.Send.DefaultBody = sendBody
	}
	if len(sendAttachments) > 0 {
		cfg.Send.Attachments = append(cfg.Send.Attachments, sendAttachments...)
	}
	if len(sendCc) > 0 {
		cfg.Send.Cc = append(cfg.Send.Cc, sendCc...)
	}
	if len(sendBcc) > 0 {
		cfg.Send.Bcc = append(cfg.Send.Bcc, sendBcc...)
	}
	if cmd.Flags().Changed("delay") {
		cfg.Send.Delay = sendDelay
	}
	if cmd.Flags().Changed("jitter") {
		cfg.Send.Jitter = &sendJitter
	}
}

// splitAddressLists expands entries that hold several comma or
// semicolon separated addresses, as pasted address lines tend to.
func splitAddressLists(entries []string) []string {
	var out []string
	for _, entry := range entries {
		out = append(out, email.SplitList(entry)...)
	}
	return out
}

// dryRun validates every job without touching the network: recipient
// syntax and attachment readability.
func dryRun(jobs []campaign.SendJob) error {
	problems := 0

	for i, job := range jobs {
		var notes []string

		if _, err := email.Normalize(job.Recipient); err != nil {
			notes = append(notes, "invalid recipient")
		}
		for _, path := range job.Attachments {
			f, err := os.Open(path)
			if err != nil {
				notes = append(notes, fmt.Sprintf("unreadable attachment %s", path))
				continue
			}
			f.Close()
		}

		status := "ok"
		if len(notes) > 0 {
			problems++
			status = strings.Join(notes, "; ")
		}

		subject := job.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Printf("[%d/%d] %-35s %-30s %s\n", i+1, len(jobs), job.Recipient, subject, status)
	}

	fmt.Printf("\n%d recipients, %d with problems. No messages were sent.\n", len(jobs), problems)
	if problems > 0 {
		return fmt.Errorf("dry run found %d problem rows", problems)
	}
	return nil
}

func confirm(total int, cfg *config.Config) bool {
	fmt.Printf("About to send %d messages via %s as %s.\n", total, cfg.SMTP.Addr(), cfg.SMTP.From)
	fmt.Printf("Continue? [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(input))
	return answer == "y" || answer == "yes"
}

// startMetrics installs the global metrics instance and serves the
// Prometheus endpoint while the campaign runs. Returns a shutdown
// function; a no-op when metrics are disabled.
func startMetrics(cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}

	m := metrics.New()
	metrics.SetGlobal(m)

	srv := metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger.With("component", "metrics"))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// renderProgress consumes the event stream and prints one line per
// recipient. The first Ctrl-C cancels the run cooperatively; stop is
// called so a second one kills the process immediately.
func renderProgress(ctx context.Context, stop func(), events <-chan campaign.Event, total int, cfg *config.Config) *campaign.Run {
	var run *campaign.Run
	done := ctx.Done()

	for {
		select {
		case <-done:
			// Restore default signal handling so a second Ctrl-C is
			// fatal; a nil channel blocks forever.
			stop()
			done = nil
			fmt.Println("\nCancelling, waiting for the message in flight... (Ctrl-C again to force quit)")
		case ev, ok := <-events:
			if !ok {
				return run
			}
			switch ev.Kind {
			case campaign.EventConnecting:
				fmt.Printf("Connecting to %s...\n", cfg.SMTP.Addr())
			case campaign.EventConnected:
				fmt.Println("Connected.")
			case campaign.EventSending:
				fmt.Printf("[%d/%d] %s ... ", ev.JobIndex+1, total, ev.Recipient)
			case campaign.EventOutcome:
				printOutcome(ev.Outcome, total)
			case campaign.EventDone:
				run = ev.Run
			}
		}
	}
}

func printOutcome(o *campaign.Outcome, total int) {
	switch o.Kind {
	case campaign.OutcomeSuccess:
		fmt.Printf("ok (%s)\n", o.Elapsed.Round(time.Millisecond))
	case campaign.OutcomeFailure:
		// Failures before the sending line (connect errors, cancelled
		// runs) have no open line to finish.
		if o.Elapsed == 0 {
			fmt.Printf("[%d/%d] %s ... ", o.JobIndex+1, total, o.Recipient)
		}
		fmt.Printf("FAILED (%s): %v\n", o.ErrorKind, o.Err)
	case campaign.OutcomeCancelled:
		fmt.Printf("[%d/%d] %s ... cancelled\n", o.JobIndex+1, total, o.Recipient)
	}
}

func printSummary(run *campaign.Run) {
	if run == nil {
		return
	}

	fmt.Println()
	fmt.Printf("Campaign finished in %s\n", formatElapsed(run.Elapsed()))
	fmt.Printf("  Sent:      %d\n", run.Succeeded)
	fmt.Printf("  Failed:    %d\n", run.Failed)
	if run.Cancelled > 0 {
		fmt.Printf("  Cancelled: %d\n", run.Cancelled)
	}
}

// formatElapsed renders a duration as HH:MM:SS.
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
