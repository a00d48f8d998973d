// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// local store, the upstream BI dataset, outbound messaging, the job schedule,
// logging, the ops HTTP server, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "staff-assistant")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// PBIConfig holds the upstream BI dataset credentials and endpoints.
type PBIConfig struct {
	ClientID  string        // PBI_CLIENT_ID
	Username  string        // PBI_USERNAME
	Password  string        // PBI_PASSWORD
	DatasetID string        // PBI_DATASET_ID
	TokenURL  string        // PBI_TOKEN_URL
	Resource  string        // PBI_RESOURCE
	APIURL    string        // PBI_API_URL
	Timeout   time.Duration // PBI_TIMEOUT, 60s..120s for large queries
}

// TelegramConfig holds outbound messaging settings.
type TelegramConfig struct {
	Token   string        // TELEGRAM_BOT_TOKEN
	APIURL  string        // TELEGRAM_API_URL
	RPS     float64       // TELEGRAM_RPS
	Timeout time.Duration // TELEGRAM_TIMEOUT
}

// ScheduleConfig holds job cadences and daily trigger times ("HH:MM").
type ScheduleConfig struct {
	Payments    time.Duration // SCHEDULE_PAYMENTS
	Devaluation time.Duration // SCHEDULE_DEVALUATION
	BonusDocs   time.Duration // SCHEDULE_BONUS_DOCS
	Identity    time.Duration // SCHEDULE_IDENTITY
	BirthdayAt  string        // BIRTHDAY_AT
	ReminderAt  string        // REMINDER_AT
	RatesAt     string        // RATES_AT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	HTTPAddr          string        // ops server listen address
	ReadHeaderTimeout time.Duration // e.g. 10s
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Store
	DatabaseURL string // postgres URL or sqlite path

	// Upstream / outbound
	PBI      PBIConfig
	Telegram TelegramConfig

	// Engine
	AdminChatIDs   []int64
	ActiveStatuses []string
	Timezone       string
	Holidays       []string // YYYY-MM-DD
	Schedule       ScheduleConfig
	PruneStale     bool
	ReminderText   string
	NBUURL         string
	OpenAIKey      string
	OpenAIModel    string
	ManualRunRPS   float64
	ManualRunBurst int

	// Observability
	OTEL OTELConfig
}

const defaultReminderText = "Нагадуємо: перевірте, будь ласка, залишок відпустки та нарахування за минулий місяць у меню бота."

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Store
		DatabaseURL: getenv("DATABASE_URL", "assistant.db"),

		PBI: PBIConfig{
			ClientID:  getenv("PBI_CLIENT_ID", ""),
			Username:  getenv("PBI_USERNAME", ""),
			Password:  getenv("PBI_PASSWORD", ""),
			DatasetID: getenv("PBI_DATASET_ID", ""),
			TokenURL:  getenv("PBI_TOKEN_URL", "https://login.microsoftonline.com/common/oauth2/token"),
			Resource:  getenv("PBI_RESOURCE", "https://analysis.windows.net/powerbi/api"),
			APIURL:    strings.TrimRight(getenv("PBI_API_URL", "https://api.powerbi.com"), "/"),
			Timeout:   getdur("PBI_TIMEOUT", 90*time.Second),
		},
		Telegram: TelegramConfig{
			Token:   getenv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:  strings.TrimRight(getenv("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
			RPS:     getfloat("TELEGRAM_RPS", 25),
			Timeout: getdur("TELEGRAM_TIMEOUT", 15*time.Second),
		},

		ActiveStatuses: splitCSV(getenv("DIRECTORY_ACTIVE_STATUSES", "Active,Активний")),
		Timezone:       getenv("TIMEZONE", "Europe/Kyiv"),
		Holidays:       splitCSV(getenv("HOLIDAYS", "")),
		Schedule: ScheduleConfig{
			Payments:    getdur("SCHEDULE_PAYMENTS", time.Hour),
			Devaluation: getdur("SCHEDULE_DEVALUATION", 5*time.Minute),
			BonusDocs:   getdur("SCHEDULE_BONUS_DOCS", 5*time.Minute),
			Identity:    getdur("SCHEDULE_IDENTITY", 10*time.Minute),
			BirthdayAt:  getenv("BIRTHDAY_AT", "09:00"),
			ReminderAt:  getenv("REMINDER_AT", "09:00"),
			RatesAt:     getenv("RATES_AT", "10:00"),
		},
		PruneStale:     getbool("PAYMENTS_PRUNE_STALE", false),
		ReminderText:   getenv("REMINDER_TEXT", defaultReminderText),
		NBUURL:         strings.TrimRight(getenv("NBU_API_URL", "https://bank.gov.ua"), "/"),
		OpenAIKey:      getenv("OPENAI_API_KEY", ""),
		OpenAIModel:    getenv("OPENAI_MODEL", "gpt-4o-mini"),
		ManualRunRPS:   getfloat("MANUAL_RUN_RPS", 0.2),
		ManualRunBurst: getint("MANUAL_RUN_BURST", 2),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "staff-assistant"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	ids, err := parseChatIDs(getenv("ADMIN_CHAT_IDS", ""))
	if err != nil {
		return cfg, err
	}
	cfg.AdminChatIDs = ids

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return cfg, errors.New("HTTP_ADDR must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return cfg, errors.New("READ_HEADER_TIMEOUT must be a positive duration")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return cfg, errors.New("DATABASE_URL must not be empty")
	}
	if cfg.PBI.Timeout <= 0 || cfg.Telegram.Timeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.Telegram.RPS <= 0 {
		return cfg, errors.New("TELEGRAM_RPS must be > 0")
	}
	if cfg.Schedule.Payments <= 0 || cfg.Schedule.Devaluation <= 0 ||
		cfg.Schedule.BonusDocs <= 0 || cfg.Schedule.Identity <= 0 {
		return cfg, errors.New("schedule intervals must be positive durations")
	}
	for name, at := range map[string]string{
		"BIRTHDAY_AT": cfg.Schedule.BirthdayAt,
		"REMINDER_AT": cfg.Schedule.ReminderAt,
		"RATES_AT":    cfg.Schedule.RatesAt,
	} {
		if _, err := time.Parse("15:04", at); err != nil {
			return cfg, fmt.Errorf("%s must be HH:MM", name)
		}
	}
	for _, h := range cfg.Holidays {
		if _, err := time.Parse(time.DateOnly, h); err != nil {
			return cfg, fmt.Errorf("HOLIDAYS entry %q must be YYYY-MM-DD", h)
		}
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}
	if len(cfg.ActiveStatuses) == 0 {
		return cfg, errors.New("DIRECTORY_ACTIVE_STATUSES must not be empty")
	}
	if cfg.ManualRunRPS < 0 {
		return cfg, errors.New("MANUAL_RUN_RPS must be >= 0")
	}
	if cfg.ManualRunBurst < 1 {
		return cfg, errors.New("MANUAL_RUN_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ValidateRuntime checks the credentials that the background jobs need.
// Load leaves them optional so tooling and tests can run without secrets.
func (c Config) ValidateRuntime() error {
	missing := make([]string, 0, 5)
	for k, v := range map[string]string{
		"TELEGRAM_BOT_TOKEN": c.Telegram.Token,
		"PBI_CLIENT_ID":      c.PBI.ClientID,
		"PBI_USERNAME":       c.PBI.Username,
		"PBI_PASSWORD":       c.PBI.Password,
		"PBI_DATASET_ID":     c.PBI.DatasetID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the configured time zone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseChatIDs parses a CSV of Telegram chat ids. Unlike the other helpers it
// reports malformed values, since a silently dropped admin is hard to notice.
func parseChatIDs(s string) ([]int64, error) {
	parts := splitCSV(s)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_CHAT_IDS entry %q is not an integer", p)
		}
		out = append(out, id)
	}
	return out, nil
}
