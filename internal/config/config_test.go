package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:         AppConfig{Env: "local", Port: 8080, PublicBaseURL: "https://dialer.example.com"},
		Store:       StoreConfig{Driver: StorePostgres},
		DB:          DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"},
		Auth:        AuthConfig{JWTSecret: "secret"},
		Telephony:   TelephonyConfig{Provider: ProviderTwilio, Timeout: 10 * time.Second},
		Twilio:      TwilioConfig{AccountSID: "AC1", AuthToken: "tok", PhoneNumber: "+15555550000"},
		Call:        CallConfig{Timeout: 30 * time.Second},
		Retry:       RetryConfig{MaxAttempts: 3, Delay: 5 * time.Minute, Backoff: "constant", Workers: 4, PollInterval: time.Second},
		Transcriber: TranscriberConfig{Kind: TranscriberSimulated},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "dialer"
	c.Auth.JWTAudience = "operators"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected access ttl default, got %s", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_SQLiteSkipsDB(t *testing.T) {
	c := validLocal()
	c.Store = StoreConfig{Driver: StoreSQLite, SQLitePath: "data/test.db"}
	c.DB = DBConfig{}
	if err := c.Validate(); err != nil {
		t.Fatalf("sqlite store should not need DB_*: %v", err)
	}

	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("sqlite must be rejected in production")
	}
}

func TestValidate_SimulatedProviderNeedsNoCredentials(t *testing.T) {
	c := validLocal()
	c.Telephony.Provider = ProviderSimulated
	c.Twilio = TwilioConfig{}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Twilio.PhoneNumber == "" {
		t.Fatalf("expected a default from number for the simulated provider")
	}
}

func TestValidate_GeminiNeedsKey(t *testing.T) {
	c := validLocal()
	c.Transcriber.Kind = TranscriberGemini
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected gemini key error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("PUBLIC_BASE_URL", "https://dialer.example.com/")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TELEPHONY_PROVIDER", "simulated")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_DELAY", "90s")
	t.Setenv("RETRY_ON_BUSY", "false")
	t.Setenv("BULK_DEFAULT_PACING", "500ms")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.PublicBaseURL != "https://dialer.example.com" {
		t.Fatalf("trailing slash not trimmed: %q", c.App.PublicBaseURL)
	}
	if c.Retry.MaxAttempts != 5 || c.Retry.Delay != 90*time.Second || c.Retry.OnBusy || !c.Retry.OnFailed {
		t.Fatalf("unexpected retry config: %+v", c.Retry)
	}
	if c.Bulk.DefaultPacing != 500*time.Millisecond || c.Call.Timeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v %+v", c.Bulk, c.Call)
	}
	if c.Store.SQLitePath != "data/dialer.db" || c.RedisEnabled() {
		t.Fatalf("unexpected store/redis: %+v %+v", c.Store, c.Redis)
	}
}

func TestLoad_AggregatesParseErrors(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("RETRY_DELAY", "soon")
	t.Setenv("CALL_RECORD", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{"APP_PORT", "RETRY_DELAY", "CALL_RECORD"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %v", key, err)
		}
	}
}
