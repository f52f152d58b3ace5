package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer processes.
// All values must come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Store       StoreConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Telephony   TelephonyConfig
	Twilio      TwilioConfig
	Call        CallConfig
	Bulk        BulkConfig
	Retry       RetryConfig
	Transcriber TranscriberConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is where the provider reaches our webhooks, e.g. https://dialer.example.com
	PublicBaseURL string
	LogLevel      string
}

type HTTPConfig struct {
	// WriteTimeout must cover a full synchronous bulk dispatch.
	WriteTimeout time.Duration
}

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type StoreConfig struct {
	Driver     string
	SQLitePath string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When Host is empty the batch lease and retry
// queue fall back to in-process/SQL implementations.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

const (
	ProviderTwilio    = "twilio"
	ProviderSimulated = "simulated"
)

type TelephonyConfig struct {
	Provider      string
	Timeout       time.Duration
	RatePerSecond float64
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	APIBaseURL  string

	// MachineDetection is Twilio's answering-machine detection mode; empty disables it.
	MachineDetection   string
	ValidateSignatures bool
}

type CallConfig struct {
	Timeout    time.Duration
	Record     bool
	Transcribe bool
	Script     string
}

type BulkConfig struct {
	DefaultPacing time.Duration
	LeaseTTL      time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     string
	MaxDelay    time.Duration

	OnFailed   bool
	OnNoAnswer bool
	OnBusy     bool

	PollInterval     time.Duration
	Workers          int
	ExecutionTimeout time.Duration

	// SweepSchedule is a cron expression or descriptor; empty disables the sweeper.
	SweepSchedule string
}

const (
	TranscriberSimulated = "simulated"
	TranscriberGemini    = "gemini"
)

type TranscriberConfig struct {
	Kind         string
	GeminiAPIKey string
	GeminiModel  string
}

func Load() (Config, error) {
	c := Config{}
	p := &parser{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = p.requiredInt("APP_PORT")
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	c.HTTP.WriteTimeout = p.optDuration("HTTP_WRITE_TIMEOUT", 10*time.Minute)

	c.Store.Driver = strings.ToLower(envOr("STORE_DRIVER", StorePostgres))
	c.Store.SQLitePath = envOr("SQLITE_PATH", "data/dialer.db")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = p.optInt("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = p.optInt("REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = p.optDuration("JWT_ACCESS_TTL", 0)
	c.Auth.RefreshTokenTTL = p.optDuration("JWT_REFRESH_TTL", 0)

	c.Telephony.Provider = strings.ToLower(envOr("TELEPHONY_PROVIDER", ProviderTwilio))
	c.Telephony.Timeout = p.optDuration("PROVIDER_TIMEOUT", 10*time.Second)
	c.Telephony.RatePerSecond = p.optFloat("PROVIDER_RATE_PER_SEC", 5)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	c.Twilio.APIBaseURL = envOr("TWILIO_API_BASE_URL", "https://api.twilio.com")
	c.Twilio.MachineDetection = strings.TrimSpace(os.Getenv("TWILIO_MACHINE_DETECTION"))
	c.Twilio.ValidateSignatures = p.optBool("TWILIO_VALIDATE_SIGNATURES", c.App.Env == "production")

	c.Call.Timeout = time.Duration(p.optInt("CALL_TIMEOUT_SECONDS", 30)) * time.Second
	c.Call.Record = p.optBool("CALL_RECORD", true)
	c.Call.Transcribe = p.optBool("CALL_TRANSCRIBE", true)
	c.Call.Script = strings.TrimSpace(os.Getenv("CALL_SCRIPT"))

	c.Bulk.DefaultPacing = p.optDuration("BULK_DEFAULT_PACING", 2*time.Second)
	c.Bulk.LeaseTTL = p.optDuration("BULK_LEASE_TTL", 30*time.Second)

	c.Retry.MaxAttempts = p.optInt("RETRY_MAX_ATTEMPTS", 3)
	c.Retry.Delay = p.optDuration("RETRY_DELAY", 5*time.Minute)
	c.Retry.Backoff = strings.ToLower(envOr("RETRY_BACKOFF", "constant"))
	c.Retry.MaxDelay = p.optDuration("RETRY_MAX_DELAY", time.Hour)
	c.Retry.OnFailed = p.optBool("RETRY_ON_FAILED", true)
	c.Retry.OnNoAnswer = p.optBool("RETRY_ON_NO_ANSWER", true)
	c.Retry.OnBusy = p.optBool("RETRY_ON_BUSY", true)
	c.Retry.PollInterval = p.optDuration("RETRY_POLL_INTERVAL", time.Second)
	c.Retry.Workers = p.optInt("RETRY_WORKERS", 4)
	c.Retry.ExecutionTimeout = p.optDuration("RETRY_EXECUTION_TIMEOUT", 60*time.Second)
	c.Retry.SweepSchedule = strings.TrimSpace(os.Getenv("RETRY_SWEEP_SCHEDULE"))

	c.Transcriber.Kind = strings.ToLower(envOr("TRANSCRIBER", TranscriberSimulated))
	c.Transcriber.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	c.Transcriber.GeminiModel = envOr("GEMINI_MODEL", "gemini-2.0-flash")

	if err := joinErrors(p.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every section and fills env-dependent defaults.
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
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.App.PublicBaseURL, "http://") && !strings.HasPrefix(c.App.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.App.PublicBaseURL))
	}

	switch c.Store.Driver {
	case StorePostgres:
		errs = append(errs, c.validateDB()...)
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER sqlite is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", c.Store.Driver))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	errs = append(errs, c.validateAuth()...)

	switch c.Telephony.Provider {
	case ProviderTwilio:
		if c.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
		}
		if c.Twilio.PhoneNumber == "" {
			errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required"))
		}
	case ProviderSimulated:
		if c.IsProduction() {
			errs = append(errs, errors.New("TELEPHONY_PROVIDER simulated is not allowed in production"))
		}
		if c.Twilio.PhoneNumber == "" {
			c.Twilio.PhoneNumber = "+15005550006"
		}
	default:
		errs = append(errs, fmt.Errorf("TELEPHONY_PROVIDER must be twilio or simulated, got %q", c.Telephony.Provider))
	}
	if c.Telephony.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}

	if c.Call.Timeout <= 0 {
		errs = append(errs, errors.New("CALL_TIMEOUT_SECONDS must be positive"))
	}
	if c.Bulk.DefaultPacing < 0 {
		errs = append(errs, errors.New("BULK_DEFAULT_PACING must be >= 0"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be >= 0"))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY must be >= 0"))
	}
	switch c.Retry.Backoff {
	case "constant", "linear", "exponential":
	default:
		errs = append(errs, fmt.Errorf("RETRY_BACKOFF must be constant, linear or exponential, got %q", c.Retry.Backoff))
	}
	if c.Retry.Workers <= 0 {
		errs = append(errs, errors.New("RETRY_WORKERS must be positive"))
	}
	if c.Retry.PollInterval <= 0 {
		errs = append(errs, errors.New("RETRY_POLL_INTERVAL must be positive"))
	}

	switch c.Transcriber.Kind {
	case TranscriberSimulated:
	case TranscriberGemini:
		if c.Transcriber.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini transcriber"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRANSCRIBER must be simulated or gemini, got %q", c.Transcriber.Kind))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error
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
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
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

// SQLiteDSN enables foreign keys and a busy timeout for the modernc driver.
func (c Config) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", c.Store.SQLitePath)
}

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// parser collects every malformed value so Load reports them together.
type parser struct {
	errs []error
}

func (p *parser) requiredInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		p.errs = append(p.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func (p *parser) optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (p *parser) optFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a number, got %q", key, v))
		return def
	}
	return f
}

func (p *parser) optBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func (p *parser) optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return def
	}
	return d
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
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
