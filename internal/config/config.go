package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the api and worker processes.
// All values must come from env (or a .env file loaded by the process).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Voice       VoiceConfig
	ConvAI      ConvAIConfig
	Worker      WorkerConfig
	StatusToken StatusTokenConfig
	AMQP        AMQPConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// VoiceConfig points at the voice provider that owns the per-user sub-accounts.
// Credentials are per user and live on the user profile, not here.
type VoiceConfig struct {
	BaseURL string
}

// ConvAIConfig configures the conversational-agent provider.
type ConvAIConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

type WorkerConfig struct {
	ID                string
	Schedule          string
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	MaxConcurrentJobs int
	TriggerSecret     string
	MetricsPort       int
}

type StatusTokenConfig struct {
	Secret string

	// RateLimit is the number of anonymous status reads allowed per client IP per window.
	RateLimit       int
	RateLimitWindow time.Duration
}

// AMQPConfig is optional; an empty URL disables job event publishing.
type AMQPConfig struct {
	URL      string
	Exchange string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Voice.BaseURL = strings.TrimSpace(os.Getenv("VOICE_BASE_URL"))

	c.ConvAI.BaseURL = strings.TrimSpace(os.Getenv("CONVAI_BASE_URL"))
	c.ConvAI.APIKey = os.Getenv("CONVAI_API_KEY")
	c.ConvAI.WebhookSecret = os.Getenv("CONVAI_WEBHOOK_SECRET")

	c.Worker.ID = strings.TrimSpace(os.Getenv("WORKER_ID"))
	c.Worker.Schedule = strings.TrimSpace(os.Getenv("WORKER_SCHEDULE"))
	c.Worker.TriggerSecret = os.Getenv("WORKER_TRIGGER_SECRET")
	// Durations and small ints are optional; defaults applied in Validate().
	c.Worker.StaleAfter, parseErrs = optionalDuration(parseErrs, "WORKER_STALE_AFTER")
	c.Worker.HeartbeatInterval, parseErrs = optionalDuration(parseErrs, "WORKER_HEARTBEAT_INTERVAL")
	c.Worker.PollInterval, parseErrs = optionalDuration(parseErrs, "WORKER_POLL_INTERVAL")
	c.Worker.PollTimeout, parseErrs = optionalDuration(parseErrs, "WORKER_POLL_TIMEOUT")
	c.Worker.MaxConcurrentJobs, parseErrs = optionalInt(parseErrs, "WORKER_MAX_CONCURRENT_JOBS")
	c.Worker.MetricsPort, parseErrs = optionalInt(parseErrs, "WORKER_METRICS_PORT")

	c.StatusToken.Secret = os.Getenv("STATUS_TOKEN_SECRET")
	c.StatusToken.RateLimit, parseErrs = optionalInt(parseErrs, "STATUS_RATE_LIMIT")
	c.StatusToken.RateLimitWindow, parseErrs = optionalDuration(parseErrs, "STATUS_RATE_LIMIT_WINDOW")

	c.AMQP.URL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	c.AMQP.Exchange = strings.TrimSpace(os.Getenv("AMQP_EXCHANGE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Voice.BaseURL == "" {
		c.Voice.BaseURL = "https://api.twilio.com"
	}
	if c.ConvAI.BaseURL == "" {
		c.ConvAI.BaseURL = "https://api.elevenlabs.io"
	}
	if c.ConvAI.APIKey == "" {
		errs = append(errs, errors.New("CONVAI_API_KEY is required"))
	}

	if c.StatusToken.Secret == "" {
		errs = append(errs, errors.New("STATUS_TOKEN_SECRET is required"))
	}
	if c.StatusToken.RateLimit <= 0 {
		c.StatusToken.RateLimit = 60
	}
	if c.StatusToken.RateLimitWindow <= 0 {
		c.StatusToken.RateLimitWindow = time.Minute
	}

	errs = append(errs, c.Worker.validate(c.IsProduction())...)

	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "call_queue.events"
	}

	return joinErrors(errs)
}

func (w *WorkerConfig) validate(production bool) []error {
	var errs []error
	if w.Schedule == "" {
		w.Schedule = "@every 10s"
	}
	if w.StaleAfter <= 0 {
		w.StaleAfter = 30 * time.Second
	}
	if w.HeartbeatInterval <= 0 {
		w.HeartbeatInterval = 5 * time.Second
	}
	if w.PollInterval <= 0 {
		w.PollInterval = 3 * time.Second
	}
	if w.PollTimeout <= 0 {
		w.PollTimeout = 10 * time.Minute
	}
	if w.MaxConcurrentJobs <= 0 {
		w.MaxConcurrentJobs = 4
	}
	if w.MetricsPort <= 0 {
		w.MetricsPort = 9090
	}
	// A live worker must never look stale between two of its own heartbeats.
	if w.StaleAfter < 3*w.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("WORKER_STALE_AFTER (%s) must be at least 3x WORKER_HEARTBEAT_INTERVAL (%s)", w.StaleAfter, w.HeartbeatInterval))
	}
	if production && w.TriggerSecret == "" {
		errs = append(errs, errors.New("WORKER_TRIGGER_SECRET is required in production"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.Worker.MetricsPort)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
