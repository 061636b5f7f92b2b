package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer            string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience          string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey        string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int      `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeoutSeconds int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	ClinicTimezone        string   `mapstructure:"CLINIC_TIMEZONE"`
	ServiceWindowStart    string   `mapstructure:"SERVICE_WINDOW_START"`
	ServiceWindowEnd      string   `mapstructure:"SERVICE_WINDOW_END"`
	ConflictWindowMinutes int      `mapstructure:"CONFLICT_WINDOW_MINUTES"`
	EditCutoffHours       int      `mapstructure:"EDIT_CUTOFF_HOURS"`
	BookingHorizonDays    int      `mapstructure:"BOOKING_HORIZON_DAYS"`
	TransitionRetries     int      `mapstructure:"TRANSITION_RETRIES"`
	OTLPEndpoint          string   `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate       float64  `mapstructure:"TRACE_SAMPLE_RATE"`
	MetricsEnabled        bool     `mapstructure:"METRICS_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT_SECONDS",
	"CLINIC_TIMEZONE", "SERVICE_WINDOW_START", "SERVICE_WINDOW_END",
	"CONFLICT_WINDOW_MINUTES", "EDIT_CUTOFF_HOURS", "BOOKING_HORIZON_DAYS",
	"TRANSITION_RETRIES", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("SERVICE_WINDOW_START", "09:00")
	v.SetDefault("SERVICE_WINDOW_END", "17:00")
	v.SetDefault("CONFLICT_WINDOW_MINUTES", 60)
	v.SetDefault("EDIT_CUTOFF_HOURS", 24)
	v.SetDefault("BOOKING_HORIZON_DAYS", 365)
	v.SetDefault("TRANSITION_RETRIES", 3)
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("METRICS_ENABLED", true)

	// Unmarshal only sees env vars that were bound explicitly.
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: development mode: X-Actor-ID/X-Actor-Role headers are trusted without a token")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the settings that Load cannot: timezone and service window
// parse, the window is not inverted, and non-development deployments carry a
// token signing key.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	start, end, err := c.ServiceWindow()
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("SERVICE_WINDOW_START (%s) must be before SERVICE_WINDOW_END (%s)",
			c.ServiceWindowStart, c.ServiceWindowEnd)
	}
	if c.ConflictWindowMinutes < 0 {
		return fmt.Errorf("CONFLICT_WINDOW_MINUTES must not be negative")
	}
	if c.EditCutoffHours < 0 {
		return fmt.Errorf("EDIT_CUTOFF_HOURS must not be negative")
	}
	if c.BookingHorizonDays <= 0 {
		return fmt.Errorf("BOOKING_HORIZON_DAYS must be positive")
	}
	if c.TransitionRetries < 0 {
		return fmt.Errorf("TRANSITION_RETRIES must not be negative")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	return nil
}

// Location resolves CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// ServiceWindow returns the bookable window as offsets from local midnight.
func (c *Config) ServiceWindow() (start, end time.Duration, err error) {
	if start, err = ParseClock(c.ServiceWindowStart); err != nil {
		return 0, 0, fmt.Errorf("SERVICE_WINDOW_START: %w", err)
	}
	if end, err = ParseClock(c.ServiceWindowEnd); err != nil {
		return 0, 0, fmt.Errorf("SERVICE_WINDOW_END: %w", err)
	}
	return start, end, nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
