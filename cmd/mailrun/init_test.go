package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mailrun/mailrun/internal/config"
)

func TestGenerateConfig(t *testing.T) {
	initHost = "smtp.gmail.com"
	initPort = 587
	initUsername = "me@gmail.com"
	initFrom = "me@gmail.com"

	content := generateConfig(config.EncryptionSTARTTLS)

	checks := []string{
		`host: "smtp.gmail.com"`,
		`port: 587`,
		`encryption: "starttls"`,
		`username: "me@gmail.com"`,
		`from: "me@gmail.com"`,
	}
	for _, check := range checks {
		if !strings.Contains(content, check) {
			t.Errorf("generated config missing: %s", check)
		}
	}

	if strings.Contains(content, "password:") && !strings.Contains(content, "# password") {
		t.Error("generated config must not contain a password field")
	}
}

func TestGenerateConfigLoads(t *testing.T) {
	initHost = "smtp.example.com"
	initPort = 465
	initUsername = "user"
	initFrom = "sender@example.com"

	path := filepath.Join(t.TempDir(), "mailrun.yaml")
	if err := os.WriteFile(path, []byte(generateConfig(config.EncryptionTLS)), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}

	if cfg.SMTP.Encryption != config.EncryptionTLS {
		t.Errorf("encryption = %q, want %q", cfg.SMTP.Encryption, config.EncryptionTLS)
	}
	if cfg.SMTP.Password != "" {
		t.Errorf("password should be empty, got %q", cfg.SMTP.Password)
	}
}

func TestProviderNames(t *testing.T) {
	names := providerNames()
	if len(names) != len(config.Presets) {
		t.Fatalf("providerNames() returned %d names, want %d", len(names), len(config.Presets))
	}
	for _, name := range names {
		if _, ok := config.Presets[name]; !ok {
			t.Errorf("unknown provider name %q", name)
		}
	}
}
