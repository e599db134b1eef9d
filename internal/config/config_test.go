package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "receptionist"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":    "dev",
		"APP_PORT":   "8080",
		"DB_HOST":    "localhost",
		"DB_PORT":    "5432",
		"DB_USER":    "postgres",
		"DB_NAME":    "receptionist",
		"REDIS_HOST": "localhost",
		"REDIS_PORT": "6379",
		"JWT_SECRET": "secret",
	} {
		t.Setenv(k, v)
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV is required", "DB_HOST is required", "REDIS_HOST is required", "JWT_SECRET is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in aggregated error: %v", want, err)
		}
	}
}

func TestValidate_ProductionRequirements(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production defaults")
	}
	for _, want := range []string{"DB_SSLMODE", "PUBLIC_BASE_URL", "TWILIO_AUTH_TOKEN", "JWT_ISSUER"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in error: %v", want, err)
		}
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
	if c.App.PublicBaseURL != "http://localhost:8080" || c.GatherURL() != "http://localhost:8080/webhooks/twilio/voice/gather" {
		t.Fatalf("unexpected public url defaults %q / %q", c.App.PublicBaseURL, c.GatherURL())
	}
	if c.Twilio.Voice != "Polly.Joanna" || c.Twilio.Language != "en-US" {
		t.Fatalf("unexpected voice defaults: %+v", c.Twilio)
	}
	if c.OpenAI.Model != "gpt-4-turbo" || c.OpenAI.Timeout != 8*time.Second || c.OpenAI.MaxTokens != 200 || c.OpenAI.TurnBudget != 10*time.Second {
		t.Fatalf("unexpected openai defaults: %+v", c.OpenAI)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute || c.Auth.RefreshTokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected ttl defaults: %+v", c.Auth)
	}
	if loc, err := c.Location(); err != nil || loc != time.UTC {
		t.Fatalf("expected UTC location, got %v %v", loc, err)
	}
}

func TestValidate_AdminCredentialsTogether(t *testing.T) {
	c := validLocal()
	c.Auth.AdminEmail = "ops@example.com"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "ADMIN_PASSWORD_HASH") {
		t.Fatalf("expected admin pairing error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PUBLIC_BASE_URL", "https://voice.example.com/")
	t.Setenv("OPENAI_TEMPERATURE", "0.2")
	t.Setenv("DASHBOARD_TIMEZONE", "America/Phoenix")
	t.Setenv("DASHBOARD_ZERO_FILL", "true")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.PublicBaseURL != "https://voice.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.App.PublicBaseURL)
	}
	if c.OpenAI.Temperature != 0.2 || !c.Dashboard.ZeroFill {
		t.Fatalf("unexpected parsed values: %+v %+v", c.OpenAI, c.Dashboard)
	}
}

func TestLoad_UnsetTemperatureDefaults(t *testing.T) {
	setBaseEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.OpenAI.Temperature != 0.7 {
		t.Fatalf("expected default temperature, got %v", c.OpenAI.Temperature)
	}
}

func TestLoad_AggregatesParseErrors(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("JWT_ACCESS_TTL", "soon")
	t.Setenv("DASHBOARD_ZERO_FILL", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	for _, want := range []string{"APP_PORT", "JWT_ACCESS_TTL", "DASHBOARD_ZERO_FILL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in error: %v", want, err)
		}
	}
}

func TestValidate_RejectsUnknownTimezone(t *testing.T) {
	c := validLocal()
	c.Dashboard.Timezone = "Mars/Olympus"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected timezone error")
	}
}

func TestValidate_TurnBudgetFitsWebhookTimeout(t *testing.T) {
	c := validLocal()
	c.OpenAI.TurnBudget = 20 * time.Second
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "OPENAI_TURN_BUDGET") {
		t.Fatalf("expected turn budget error, got %v", err)
	}
}
