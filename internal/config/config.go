package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"meetbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Google     GoogleConfig     `yaml:"google"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Booking    BookingConfig    `yaml:"booking"`
	Audit      AuditConfig      `yaml:"audit"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// BaseURL prefixes the approve/decline links sent to the operator.
	BaseURL string `yaml:"base_url"`
}

type APIConfig struct {
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	// CredentialsFile is either a service account key or an OAuth client secret.
	CredentialsFile string `yaml:"credentials_file"`
	// TokenFile holds the authorized-user token when CredentialsFile is an OAuth client.
	TokenFile string `yaml:"token_file"`
	// ImpersonateUser is the Workspace user a service account acts as.
	ImpersonateUser string `yaml:"impersonate_user"`
	CalendarID      string `yaml:"calendar_id"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSL      bool   `yaml:"ssl"`
}

type TelegramConfig struct {
	BotToken       string `yaml:"bot_token"`
	OperatorChatID int64  `yaml:"operator_chat_id"`
	Debug          bool   `yaml:"debug"`
}

type BookingConfig struct {
	Timezone           string        `yaml:"timezone"`
	OwnerEmail         string        `yaml:"owner_email"`
	OwnerName          string        `yaml:"owner_name"`
	SenderEmail        string        `yaml:"sender_email"`
	MailTransport      string        `yaml:"mail_transport"` // gmail | smtp
	MaxDurationMinutes int           `yaml:"max_duration_minutes"`
	ExternalTimeout    time.Duration `yaml:"external_timeout"`
	TokenTTL           time.Duration `yaml:"token_ttl"`
	ConfirmClicks      *bool         `yaml:"confirm_clicks"`
	NotifyDeclines     *bool         `yaml:"notify_declines"`
	RequestsPerHour    int           `yaml:"requests_per_hour"`
}

type AuditConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	SheetName     string `yaml:"sheet_name"`
}

const (
	MailTransportGmail = "gmail"
	MailTransportSMTP  = "smtp"
)

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}

	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking timezone %q: %w", c.Booking.Timezone, err)
	}

	if c.Booking.OwnerEmail == "" {
		return errors.New("booking owner_email is required")
	}

	// Calendar access is mandatory; Gmail reuses the same credentials.
	if c.Google.CredentialsFile == "" {
		return errors.New("google credentials_file is required")
	}

	switch c.Booking.MailTransport {
	case MailTransportGmail:
	case MailTransportSMTP:
		if c.SMTP.Host == "" {
			return errors.New("smtp transport requires smtp.host")
		}
	default:
		return fmt.Errorf("unknown booking mail_transport %q", c.Booking.MailTransport)
	}

	if c.Booking.MaxDurationMinutes <= 0 {
		return errors.New("booking max_duration_minutes must be positive")
	}

	if c.Telegram.BotToken != "" && c.Telegram.OperatorChatID == 0 {
		return errors.New("telegram operator_chat_id is required when bot_token is set")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// ConfirmClicksEnabled reports whether GET links render a confirmation page.
func (b BookingConfig) ConfirmClicksEnabled() bool {
	return b.ConfirmClicks == nil || *b.ConfirmClicks
}

// NotifyDeclinesEnabled reports whether requesters hear about declines.
func (b BookingConfig) NotifyDeclinesEnabled() bool {
	return b.NotifyDeclines == nil || *b.NotifyDeclines
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}

	// Booking defaults
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = models.DefaultTimezone
	}
	if c.Booking.MailTransport == "" {
		c.Booking.MailTransport = MailTransportGmail
	}
	if c.Booking.MaxDurationMinutes == 0 {
		c.Booking.MaxDurationMinutes = models.DefaultMaxDurationMinutes
	}
	if c.Booking.ExternalTimeout == 0 {
		c.Booking.ExternalTimeout = 10 * time.Second
	}
	if c.Booking.SenderEmail == "" {
		c.Booking.SenderEmail = c.Booking.OwnerEmail
	}
	if c.Booking.OwnerName == "" {
		c.Booking.OwnerName = "the organizer"
	}

	if c.Audit.SheetName == "" {
		c.Audit.SheetName = "Audit"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
}
