// Package config loads and validates the mailrun configuration file.
package config

import (
	"fmt"
	"net"
	"net/mail"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Encryption modes for the SMTP connection
const (
	EncryptionSTARTTLS = "starttls"
	EncryptionTLS      = "tls"
	EncryptionNone     = "none"
)

// Config is the main configuration structure
type Config struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Send    SendConfig    `yaml:"send"`
	DKIM    DKIMConfig    `yaml:"dkim"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SMTPConfig contains the submission server settings
type SMTPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`       // Default: 587 (465 with encryption "tls")
	Encryption string `yaml:"encryption"` // starttls, tls, none

	Username string `yaml:"username"`

	// Password is optional here. When empty, the MAILRUN_SMTP_PASSWORD
	// environment variable is used, then an interactive prompt.
	// mailrun itself never writes a password to disk.
	Password string `yaml:"password,omitempty"`

	From    string        `yaml:"from"`
	Helo    string        `yaml:"helo,omitempty"` // Default: local hostname
	Timeout time.Duration `yaml:"timeout"`        // Default: 30s
}

// Addr returns the host:port dial address.
func (s *SMTPConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SendConfig contains campaign pacing and content defaults
type SendConfig struct {
	Delay  time.Duration `yaml:"delay"`  // Pause between sends. Default: 5s
	Jitter *bool         `yaml:"jitter"` // Randomize each pause by +-20%. Default: true

	DefaultSubject string `yaml:"default_subject"`
	DefaultBody    string `yaml:"default_body"`

	// Cc and Bcc apply to every message of a campaign.
	Cc  []string `yaml:"cc,omitempty"`
	Bcc []string `yaml:"bcc,omitempty"`

	// Attachments are added to every message, after any per-row ones.
	Attachments []string `yaml:"attachments,omitempty"`
}

// JitterEnabled reports whether pauses should be randomized.
func (s *SendConfig) JitterEnabled() bool {
	return s.Jitter == nil || *s.Jitter
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: 127.0.0.1:9091
	Path       string `yaml:"path"`        // Default: /metrics
}

// Preset holds a well-known provider's submission endpoint, used by
// the init command.
type Preset struct {
	Host       string
	Port       int
	Encryption string
}

// Presets maps provider names to their submission settings
var Presets = map[string]Preset{
	"gmail":   {Host: "smtp.gmail.com", Port: 587, Encryption: EncryptionSTARTTLS},
	"outlook": {Host: "smtp.office365.com", Port: 587, Encryption: EncryptionSTARTTLS},
	"yahoo":   {Host: "smtp.mail.yahoo.com", Port: 587, Encryption: EncryptionSTARTTLS},
	"yandex":  {Host: "smtp.yandex.ru", Port: 465, Encryption: EncryptionTLS},
	"mailru":  {Host: "smtp.mail.ru", Port: 465, Encryption: EncryptionTLS},
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.SMTP.Encryption == "" {
		if c.SMTP.Port == 465 {
			c.SMTP.Encryption = EncryptionTLS
		} else {
			c.SMTP.Encryption = EncryptionSTARTTLS
		}
	}
	if c.SMTP.Port == 0 {
		if c.SMTP.Encryption == EncryptionTLS {
			c.SMTP.Port = 465
		} else {
			c.SMTP.Port = 587
		}
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 30 * time.Second
	}

	if c.Send.Delay == 0 {
		c.Send.Delay = 5 * time.Second
	}
	if c.Send.Jitter == nil {
		jitter := true
		c.Send.Jitter = &jitter
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "127.0.0.1:9091"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid smtp.port: %d", c.SMTP.Port)
	}

	validEncryption := map[string]bool{EncryptionSTARTTLS: true, EncryptionTLS: true, EncryptionNone: true}
	if !validEncryption[c.SMTP.Encryption] {
		return fmt.Errorf("invalid smtp.encryption: %s (must be starttls, tls, or none)", c.SMTP.Encryption)
	}

	if c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required")
	}
	if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
		return fmt.Errorf("invalid smtp.from address %q: %w", c.SMTP.From, err)
	}

	if c.SMTP.Timeout < 0 {
		return fmt.Errorf("smtp.timeout must not be negative")
	}
	if c.Send.Delay < 0 {
		return fmt.Errorf("send.delay must not be negative")
	}

	for _, addr := range c.Send.Cc {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("invalid send.cc address %q: %w", addr, err)
		}
	}
	for _, addr := range c.Send.Bcc {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("invalid send.bcc address %q: %w", addr, err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}
	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}

	return nil
}
