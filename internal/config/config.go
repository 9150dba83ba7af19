package config

import (
	"fmt"
	"strings"
	"time"

	"clinicq/internal/window"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string `mapstructure:"PORT"`
	Env                     string `mapstructure:"ENV"`
	LogLevel                string `mapstructure:"LOG_LEVEL"`
	Store                   string `mapstructure:"STORE"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32  `mapstructure:"DB_MIN_CONNS"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	JWTIssuer               string `mapstructure:"JWT_ISSUER"`
	ClinicTimezone          string `mapstructure:"CLINIC_TIMEZONE"`
	CheckInLeadMinutes      int    `mapstructure:"CHECKIN_LEAD_MINUTES"`
	CheckInGraceMinutes     int    `mapstructure:"CHECKIN_GRACE_MINUTES"`
	DefaultServiceMinutes   int    `mapstructure:"DEFAULT_SERVICE_MINUTES"`
	DurationRefreshSeconds  int    `mapstructure:"SERVICE_DURATION_REFRESH_SECONDS"`
	PredictorURL            string `mapstructure:"PREDICTOR_URL"`
	PredictorTimeoutMS      int    `mapstructure:"PREDICTOR_TIMEOUT_MS"`
	NotifyPublisher         string `mapstructure:"NOTIFY_PUBLISHER"`
	NotifyWebhookURL        string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookToken      string `mapstructure:"NOTIFY_WEBHOOK_TOKEN"`
	KafkaBrokers            string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic              string `mapstructure:"KAFKA_TOPIC"`
	NotifyPollSeconds       int    `mapstructure:"NOTIFY_POLL_SECONDS"`
	NotifyBatchSize         int    `mapstructure:"NOTIFY_BATCH_SIZE"`
	NotifyMaxAttempts       int    `mapstructure:"NOTIFY_MAX_ATTEMPTS"`
	RealtimePollMS          int    `mapstructure:"REALTIME_POLL_MS"`
	ReminderLeadHours       int    `mapstructure:"REMINDER_LEAD_HOURS"`
	RateLimitPerMinute      int    `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst          int    `mapstructure:"RATE_LIMIT_BURST"`
	ActorRateLimitPerMinute int    `mapstructure:"ACTOR_RATE_LIMIT_PER_MIN"`
	ActorRateLimitBurst     int    `mapstructure:"ACTOR_RATE_LIMIT_BURST"`
	OTLPEndpoint            string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure            bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var defaults = map[string]interface{}{
	"PORT":                             "8080",
	"ENV":                              "development",
	"LOG_LEVEL":                        "info",
	"STORE":                            "postgres",
	"DB_MAX_CONNS":                     10,
	"DB_MIN_CONNS":                     2,
	"CLINIC_TIMEZONE":                  "UTC",
	"CHECKIN_LEAD_MINUTES":             60,
	"CHECKIN_GRACE_MINUTES":            30,
	"DEFAULT_SERVICE_MINUTES":          15,
	"SERVICE_DURATION_REFRESH_SECONDS": 60,
	"PREDICTOR_TIMEOUT_MS":             1500,
	"NOTIFY_PUBLISHER":                 "log",
	"KAFKA_TOPIC":                      "clinic.notifications",
	"NOTIFY_POLL_SECONDS":              5,
	"NOTIFY_BATCH_SIZE":                50,
	"NOTIFY_MAX_ATTEMPTS":              3,
	"REALTIME_POLL_MS":                 1000,
	"REMINDER_LEAD_HOURS":              24,
	"RATE_LIMIT_PER_MIN":               120,
	"RATE_LIMIT_BURST":                 30,
	"ACTOR_RATE_LIMIT_PER_MIN":         600,
	"ACTOR_RATE_LIMIT_BURST":           120,
}

var envOnly = []string{
	"DATABASE_URL",
	"JWT_SECRET",
	"JWT_ISSUER",
	"PREDICTOR_URL",
	"NOTIFY_WEBHOOK_URL",
	"NOTIFY_WEBHOOK_TOKEN",
	"KAFKA_BROKERS",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_INSECURE",
}

// Load reads the environment and an optional .env file in the working
// directory. It does not validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	for _, key := range envOnly {
		_ = v.BindEnv(key)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) Validate() error {
	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE must be \"postgres\" or \"memory\", got %q", c.Store)
	}
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development (ENV=%q)", c.Env)
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	// The check-in window is clinic policy; the keys exist so a deployment
	// that disagrees fails at startup instead of running a different window.
	if lead := int(window.CheckInLead / time.Minute); c.CheckInLeadMinutes != lead {
		return fmt.Errorf("CHECKIN_LEAD_MINUTES must be %d, got %d", lead, c.CheckInLeadMinutes)
	}
	if grace := int(window.CheckInGrace / time.Minute); c.CheckInGraceMinutes != grace {
		return fmt.Errorf("CHECKIN_GRACE_MINUTES must be %d, got %d", grace, c.CheckInGraceMinutes)
	}
	positive := map[string]int{
		"DEFAULT_SERVICE_MINUTES": c.DefaultServiceMinutes,
		"PREDICTOR_TIMEOUT_MS":    c.PredictorTimeoutMS,
		"REMINDER_LEAD_HOURS":     c.ReminderLeadHours,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, value)
		}
	}
	switch strings.ToLower(c.NotifyPublisher) {
	case "log", "noop", "fail":
	case "webhook":
		if c.NotifyWebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFY_PUBLISHER=webhook")
		}
	case "kafka":
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFY_PUBLISHER=kafka")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_PUBLISHER %q", c.NotifyPublisher)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// Location is the clinic's timezone. Validate has already checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CheckInPolicy() window.Policy {
	return window.Policy{
		Lead:  time.Duration(c.CheckInLeadMinutes) * time.Minute,
		Grace: time.Duration(c.CheckInGraceMinutes) * time.Minute,
	}
}

func (c *Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func (c *Config) DefaultServiceDuration() time.Duration {
	return time.Duration(c.DefaultServiceMinutes) * time.Minute
}

func (c *Config) DurationRefreshInterval() time.Duration {
	return time.Duration(c.DurationRefreshSeconds) * time.Second
}

func (c *Config) PredictorTimeout() time.Duration {
	return time.Duration(c.PredictorTimeoutMS) * time.Millisecond
}

func (c *Config) NotifyPollInterval() time.Duration {
	return time.Duration(c.NotifyPollSeconds) * time.Second
}

func (c *Config) RealtimePollInterval() time.Duration {
	return time.Duration(c.RealtimePollMS) * time.Millisecond
}

func (c *Config) ReminderLead() time.Duration {
	return time.Duration(c.ReminderLeadHours) * time.Hour
}
