package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetbook/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  base_url: "https://book.example.com/"
database:
  path: "test.db"
booking:
  owner_email: "${TEST_OWNER_EMAIL}"
  mail_transport: smtp
  external_timeout: 3s
  confirm_clicks: false
smtp:
  host: "smtp.example.com"
google:
  credentials_file: "credentials.json"
api:
  auth:
    enabled: true
    api_keys:
      - key: "k1"
        name: "chat-frontend"
        permissions: ["write:bookings"]
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	t.Setenv("TEST_OWNER_EMAIL", "owner@example.com")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Booking.OwnerEmail != "owner@example.com" {
		t.Errorf("expected owner email from env, got %s", cfg.Booking.OwnerEmail)
	}
	if cfg.Server.BaseURL != "https://book.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Server.BaseURL)
	}
	if cfg.Booking.ExternalTimeout != 3*time.Second {
		t.Errorf("expected external timeout 3s, got %s", cfg.Booking.ExternalTimeout)
	}
	if cfg.Booking.ConfirmClicksEnabled() {
		t.Errorf("expected confirm_clicks disabled")
	}
	if !cfg.Booking.NotifyDeclinesEnabled() {
		t.Errorf("expected notify_declines enabled by default")
	}
	if len(cfg.API.Auth.APIKeys) != 1 || cfg.API.Auth.APIKeys[0].Name != "chat-frontend" {
		t.Errorf("expected 1 api key for chat-frontend")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func validConfig() Config {
	cfg := Config{
		Server:   ServerConfig{BaseURL: "https://book.example.com"},
		Database: DatabaseConfig{Path: "path"},
		Booking:  BookingConfig{OwnerEmail: "owner@example.com", MailTransport: MailTransportSMTP},
		Google:   GoogleConfig{CredentialsFile: "credentials.json"},
		SMTP:     SMTPConfig{Host: "smtp.example.com"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "relative base url",
			mutate:  func(c *Config) { c.Server.BaseURL = "/approve" },
			wantErr: true,
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Booking.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name:    "missing owner email",
			mutate:  func(c *Config) { c.Booking.OwnerEmail = "" },
			wantErr: true,
		},
		{
			name:    "missing google credentials",
			mutate:  func(c *Config) { c.Google.CredentialsFile = "" },
			wantErr: true,
		},
		{
			name: "gmail without credentials",
			mutate: func(c *Config) {
				c.Booking.MailTransport = MailTransportGmail
				c.Google.CredentialsFile = ""
			},
			wantErr: true,
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Booking.MailTransport = "pigeon" },
			wantErr: true,
		},
		{
			name:    "telegram without chat",
			mutate:  func(c *Config) { c.Telegram.BotToken = "token" },
			wantErr: true,
		},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{{Key: "a", Name: "one"}, {Key: "a", Name: "two"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Booking: BookingConfig{OwnerEmail: "owner@example.com"}}
	cfg.applyDefaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Booking.Timezone != models.DefaultTimezone {
		t.Errorf("expected default timezone %s, got %s", models.DefaultTimezone, cfg.Booking.Timezone)
	}
	if cfg.Booking.MaxDurationMinutes != models.DefaultMaxDurationMinutes {
		t.Errorf("expected default max duration %d, got %d", models.DefaultMaxDurationMinutes, cfg.Booking.MaxDurationMinutes)
	}
	if cfg.Booking.SenderEmail != "owner@example.com" {
		t.Errorf("expected sender to default to owner, got %s", cfg.Booking.SenderEmail)
	}
	if cfg.Google.CalendarID != "primary" {
		t.Errorf("expected default calendar id primary, got %s", cfg.Google.CalendarID)
	}
	if cfg.Audit.SheetName != "Audit" {
		t.Errorf("expected default audit sheet Audit, got %s", cfg.Audit.SheetName)
	}
}

func TestValidateAPIKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    []APIClientKey
		wantErr bool
	}{
		{name: "Valid keys", keys: []APIClientKey{{Key: "a"}, {Key: "b"}}, wantErr: false},
		{name: "Duplicate key", keys: []APIClientKey{{Key: "a"}, {Key: "a"}}, wantErr: true},
		{name: "Empty key", keys: []APIClientKey{{Key: " ", Name: "blank"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKeys(tt.keys)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
