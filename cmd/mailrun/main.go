package main

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mailrun/mailrun/internal/config"
	"github.com/mailrun/mailrun/internal/smtp"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailrun",
	Short: "Mailrun - bulk email campaign sender",
	Long: `Mailrun sends personalized email campaigns from a CSV recipient list
over a single authenticated SMTP connection, one message per row.`,
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mailrun version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Server:     %s (%s)\n", cfg.SMTP.Addr(), cfg.SMTP.Encryption)
	fmt.Printf("  From:       %s\n", cfg.SMTP.From)
	if cfg.SMTP.Username != "" {
		fmt.Printf("  Username:   %s\n", cfg.SMTP.Username)
	}
	fmt.Printf("  Delay:      %s (jitter: %v)\n", cfg.Send.Delay, cfg.Send.JitterEnabled())
	if cfg.DKIM.Enabled {
		fmt.Printf("  DKIM:       %s._domainkey.%s\n", cfg.DKIM.Selector, cfg.DKIM.Domain)
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:    http://%s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// resolvePassword finds the SMTP password without ever writing it to
// disk: config value first, then the MAILRUN_SMTP_PASSWORD environment
// variable, then an interactive no-echo prompt.
func resolvePassword(cfg *config.Config) (string, error) {
	if cfg.SMTP.Username == "" {
		return "", nil
	}
	if cfg.SMTP.Password != "" {
		return cfg.SMTP.Password, nil
	}
	if pass := os.Getenv("MAILRUN_SMTP_PASSWORD"); pass != "" {
		return pass, nil
	}

	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("no SMTP password: set smtp.password or MAILRUN_SMTP_PASSWORD")
	}

	fmt.Printf("SMTP password for %s@%s: ", cfg.SMTP.Username, cfg.SMTP.Host)
	pwBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	return string(pwBytes), nil
}

func smtpConfig(cfg *config.Config, password string) smtp.Config {
	return smtp.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Encryption: cfg.SMTP.Encryption,
		Username:   cfg.SMTP.Username,
		Password:   password,
		From:       cfg.SMTP.From,
		Helo:       cfg.SMTP.Helo,
		Timeout:    cfg.SMTP.Timeout,
	}
}
