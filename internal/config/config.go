package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	OpenAI    OpenAIConfig
	Dashboard DashboardConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally visible origin Twilio calls back on.
	PublicBaseURL string

	// CORSOrigins are the dashboard origins allowed on /v1.
	CORSOrigins []string
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
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// AdminEmail and AdminPasswordHash (bcrypt) gate dashboard login.
	AdminEmail        string
	AdminPasswordHash string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	TransferNumber string
	Voice          string
	Language       string
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32

	// TurnBudget bounds one caller turn's completion, retries included.
	// Twilio abandons a webhook after 15s.
	TurnBudget time.Duration
}

// MaxTurnBudget keeps a turn inside Twilio's webhook timeout with room for persistence.
const MaxTurnBudget = 14 * time.Second

type DashboardConfig struct {
	Timezone string
	ZeroFill bool
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
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.App.CORSOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

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
	// Duration env vars are optional; defaults applied in Validate() based on env.
	{
		d, err := optionalDuration("JWT_ACCESS_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Auth.AccessTokenTTL = d
	}
	{
		d, err := optionalDuration("JWT_REFRESH_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Auth.RefreshTokenTTL = d
	}
	c.Auth.AdminEmail = strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	c.Auth.AdminPasswordHash = strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.TransferNumber = strings.TrimSpace(os.Getenv("TWILIO_TRANSFER_NUMBER"))
	c.Twilio.Voice = strings.TrimSpace(os.Getenv("TWILIO_VOICE"))
	c.Twilio.Language = strings.TrimSpace(os.Getenv("TWILIO_LANGUAGE"))

	c.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	c.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	{
		d, err := optionalDuration("OPENAI_TIMEOUT")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.OpenAI.Timeout = d
	}
	{
		d, err := optionalDuration("OPENAI_TURN_BUDGET")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.OpenAI.TurnBudget = d
	}
	{
		n, err := optionalInt("OPENAI_MAX_TOKENS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.OpenAI.MaxTokens = n
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("OPENAI_TEMPERATURE must be a number, got %q", v))
		} else {
			c.OpenAI.Temperature = float32(f)
		}
	} else {
		c.OpenAI.Temperature = -1
	}

	c.Dashboard.Timezone = strings.TrimSpace(os.Getenv("DASHBOARD_TIMEZONE"))
	if v := strings.TrimSpace(os.Getenv("DASHBOARD_ZERO_FILL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("DASHBOARD_ZERO_FILL must be a boolean, got %q", v))
		}
		c.Dashboard.ZeroFill = b
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills env-dependent defaults in place.
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
		if c.IsProduction() {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		} else {
			c.App.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		}
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute url, got %q", c.App.PublicBaseURL))
	}

	if len(c.App.CORSOrigins) == 0 && !c.IsProduction() {
		c.App.CORSOrigins = []string{"http://localhost:3000"}
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
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
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPasswordHash == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD_HASH must be set together"))
	}

	if c.IsProduction() && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
	}
	if c.Twilio.Voice == "" {
		c.Twilio.Voice = "Polly.Joanna"
	}
	if c.Twilio.Language == "" {
		c.Twilio.Language = "en-US"
	}

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4-turbo"
	}
	if c.OpenAI.Timeout <= 0 {
		c.OpenAI.Timeout = 8 * time.Second
	}
	if c.OpenAI.TurnBudget <= 0 {
		c.OpenAI.TurnBudget = 10 * time.Second
	}
	if c.OpenAI.TurnBudget > MaxTurnBudget {
		errs = append(errs, fmt.Errorf("OPENAI_TURN_BUDGET must not exceed %s, got %s", MaxTurnBudget, c.OpenAI.TurnBudget))
	}
	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = 200
	}
	if c.OpenAI.Temperature < 0 {
		c.OpenAI.Temperature = 0.7
	} else if c.OpenAI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("OPENAI_TEMPERATURE must be within 0..2, got %v", c.OpenAI.Temperature))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("DASHBOARD_TIMEZONE: %w", err))
	}

	return joinErrors(errs)
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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GatherURL is where Twilio posts the next recognized utterance.
func (c Config) GatherURL() string {
	return c.App.PublicBaseURL + "/webhooks/twilio/voice/gather"
}

// Location is the dashboard bucketing zone; UTC when unset.
func (c Config) Location() (*time.Location, error) {
	if c.Dashboard.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Dashboard.Timezone)
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

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func appendParseErr[T any](errs []error, v T, err error) (T, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
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
