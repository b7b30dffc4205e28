package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
smtp:
  host: smtp.example.com
  port: 2525
  username: user
  from: Sender <sender@example.com>
  timeout: 45s
send:
  delay: 2s
  jitter: false
  default_subject: Hello
  cc:
    - boss@example.com
logging:
  level: debug
  format: json
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.SMTP.Host != "smtp.example.com" {
		t.Errorf("Host = %q", cfg.SMTP.Host)
	}
	if cfg.SMTP.Port != 2525 {
		t.Errorf("Port = %d, want 2525", cfg.SMTP.Port)
	}
	if cfg.SMTP.Encryption != EncryptionSTARTTLS {
		t.Errorf("Encryption = %q, want default starttls", cfg.SMTP.Encryption)
	}
	if cfg.SMTP.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.SMTP.Timeout)
	}
	if cfg.Send.Delay != 2*time.Second {
		t.Errorf("Delay = %v, want 2s", cfg.Send.Delay)
	}
	if cfg.Send.JitterEnabled() {
		t.Error("JitterEnabled() = true, want false")
	}
	if cfg.Send.DefaultSubject != "Hello" {
		t.Errorf("DefaultSubject = %q", cfg.Send.DefaultSubject)
	}
	if len(cfg.Send.Cc) != 1 || cfg.Send.Cc[0] != "boss@example.com" {
		t.Errorf("Cc = %v", cfg.Send.Cc)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "smtp: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestSetDefaults(t *testing.T) {
	tests := []struct {
		name           string
		cfg            Config
		wantPort       int
		wantEncryption string
	}{
		{
			name:           "all empty",
			cfg:            Config{},
			wantPort:       587,
			wantEncryption: EncryptionSTARTTLS,
		},
		{
			name:           "port 465 implies tls",
			cfg:            Config{SMTP: SMTPConfig{Port: 465}},
			wantPort:       465,
			wantEncryption: EncryptionTLS,
		},
		{
			name:           "tls implies port 465",
			cfg:            Config{SMTP: SMTPConfig{Encryption: EncryptionTLS}},
			wantPort:       465,
			wantEncryption: EncryptionTLS,
		},
		{
			name:           "explicit values kept",
			cfg:            Config{SMTP: SMTPConfig{Port: 1025, Encryption: EncryptionNone}},
			wantPort:       1025,
			wantEncryption: EncryptionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.SetDefaults()
			if tt.cfg.SMTP.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", tt.cfg.SMTP.Port, tt.wantPort)
			}
			if tt.cfg.SMTP.Encryption != tt.wantEncryption {
				t.Errorf("Encryption = %q, want %q", tt.cfg.SMTP.Encryption, tt.wantEncryption)
			}
		})
	}
}

func TestSetDefaultsCommon(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	if cfg.SMTP.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.SMTP.Timeout)
	}
	if cfg.Send.Delay != 5*time.Second {
		t.Errorf("Delay = %v, want 5s", cfg.Send.Delay)
	}
	if !cfg.Send.JitterEnabled() {
		t.Error("jitter should default to enabled")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9091" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics defaults = %+v", cfg.Metrics)
	}
}

func validConfig() Config {
	cfg := Config{
		SMTP: SMTPConfig{
			Host: "smtp.example.com",
			From: "sender@example.com",
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.SMTP.Host = "" },
			wantErr: "smtp.host",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.SMTP.Port = 70000 },
			wantErr: "smtp.port",
		},
		{
			name:    "bad encryption",
			mutate:  func(c *Config) { c.SMTP.Encryption = "ssl3" },
			wantErr: "smtp.encryption",
		},
		{
			name:    "missing from",
			mutate:  func(c *Config) { c.SMTP.From = "" },
			wantErr: "smtp.from",
		},
		{
			name:    "unparseable from",
			mutate:  func(c *Config) { c.SMTP.From = "not an address" },
			wantErr: "smtp.from",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Send.Delay = -time.Second },
			wantErr: "send.delay",
		},
		{
			name:    "bad cc",
			mutate:  func(c *Config) { c.Send.Cc = []string{"nope"} },
			wantErr: "send.cc",
		},
		{
			name:    "bad bcc",
			mutate:  func(c *Config) { c.Send.Bcc = []string{"nope"} },
			wantErr: "send.bcc",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "dkim enabled without domain",
			mutate:  func(c *Config) { c.DKIM = DKIMConfig{Enabled: true, Selector: "s", KeyFile: "k"} },
			wantErr: "dkim.domain",
		},
		{
			name:    "dkim enabled without selector",
			mutate:  func(c *Config) { c.DKIM = DKIMConfig{Enabled: true, Domain: "example.com", KeyFile: "k"} },
			wantErr: "dkim.selector",
		},
		{
			name:    "dkim enabled without key file",
			mutate:  func(c *Config) { c.DKIM = DKIMConfig{Enabled: true, Domain: "example.com", Selector: "s"} },
			wantErr: "dkim.key_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	for name, preset := range Presets {
		if preset.Host == "" || preset.Port == 0 {
			t.Errorf("preset %q incomplete: %+v", name, preset)
		}
		if preset.Encryption != EncryptionSTARTTLS && preset.Encryption != EncryptionTLS {
			t.Errorf("preset %q has unexpected encryption %q", name, preset.Encryption)
		}
	}
	if _, ok := Presets["gmail"]; !ok {
		t.Error("gmail preset missing")
	}
}
