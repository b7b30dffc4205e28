package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailrun/mailrun/internal/email"
	"github.com/mailrun/mailrun/internal/message"
	"github.com/mailrun/mailrun/internal/smtp"
)

var (
	testSMTPTo      string
	testSMTPSubject string
	testSMTPBody    string
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Testing and debugging commands",
}

var testSMTPCmd = &cobra.Command{
	Use:   "smtp",
	Short: "Check the SMTP connection and credentials",
	Long: `Connect to the configured SMTP server, negotiate encryption and
authenticate. With --to, a single test message is sent as well.`,
	RunE: runTestSMTP,
}

func init() {
	testSMTPCmd.Flags().StringVar(&testSMTPTo, "to", "", "Send a test message to this address")
	testSMTPCmd.Flags().StringVar(&testSMTPSubject, "subject", "Test message from mailrun", "Test message subject")
	testSMTPCmd.Flags().StringVar(&testSMTPBody, "body", "This is a test message sent by mailrun.", "Test message body")

	testCmd.AddCommand(testSMTPCmd)
	rootCmd.AddCommand(testCmd)
}

func runTestSMTP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	password, err := resolvePassword(cfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	fmt.Printf("Connecting to %s (%s)...\n", cfg.SMTP.Addr(), cfg.SMTP.Encryption)

	start := time.Now()
	client, err := smtp.Dial(cmd.Context(), smtpConfig(cfg, password), logger)
	if err != nil {
		if smtp.IsAuthError(err) {
			return fmt.Errorf("authentication failed: %w", err)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer client.Close()

	fmt.Printf("Connected and authenticated in %s\n", time.Since(start).Round(time.Millisecond))

	if testSMTPTo == "" {
		return nil
	}

	to, err := email.Normalize(testSMTPTo)
	if err != nil {
		return err
	}

	builder := message.NewBuilder(email.ExtractDomainOrDefault(cfg.SMTP.From, ""), nil)
	raw, err := builder.Build(&message.Message{
		From:    cfg.SMTP.From,
		To:      to,
		Subject: testSMTPSubject,
		Body:    testSMTPBody,
	})
	if err != nil {
		return fmt.Errorf("failed to build test message: %w", err)
	}

	envelopeFrom, err := email.Normalize(cfg.SMTP.From)
	if err != nil {
		return fmt.Errorf("invalid smtp.from address: %w", err)
	}

	if err := client.Send(cmd.Context(), envelopeFrom, []string{to}, raw); err != nil {
		return fmt.Errorf("test message rejected: %w", err)
	}

	fmt.Printf("Test message sent to %s\n", to)
	return nil
}
