// Package config loads the service configuration from the environment and
// optionally overlays provider secrets from AWS SSM Parameter Store.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Session store backends.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// Score denominators.
const (
	DenominatorAnswered   = "answered"
	DenominatorConfigured = "configured"
)

// Config holds the environment driven configuration.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`

	WhatsApp WhatsApp

	RequireSignature bool `env:"WEBHOOK_REQUIRE_SIGNATURE" envDefault:"false"`

	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory" validate:"oneof=memory dynamodb redis"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h" validate:"gt=0"`
	SessionTable   string        `env:"SESSION_TABLE" validate:"required_if=SessionBackend dynamodb"`
	RedisURL       string        `env:"REDIS_URL" validate:"required_if=SessionBackend redis"`
	LeadTable      string        `env:"LEAD_TABLE" validate:"required"`
	EventBusName   string        `env:"EVENT_BUS_NAME"`
	ParamPrefix    string        `env:"PARAM_PREFIX"`

	QuestionnairePath  string        `env:"QUESTIONNAIRE_PATH"`
	FlowStartDelay     time.Duration `env:"FLOW_START_DELAY" envDefault:"30s" validate:"gte=0"`
	ScoreDenominator   string        `env:"SCORE_DENOMINATOR" envDefault:"answered" validate:"oneof=answered configured"`
	DefaultCountryCode string        `env:"DEFAULT_COUNTRY_CODE" validate:"omitempty,numeric,max=3"`

	WorkerCount       int           `env:"WORKER_COUNT" envDefault:"8" validate:"min=1"`
	QueueSize         int           `env:"QUEUE_SIZE" envDefault:"64" validate:"min=1"`
	EnqueueTimeout    time.Duration `env:"ENQUEUE_TIMEOUT" envDefault:"2s" validate:"gt=0"`
	ProcessAttempts   int           `env:"PROCESS_ATTEMPTS" envDefault:"3" validate:"min=1"`
	DownstreamTimeout time.Duration `env:"DOWNSTREAM_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	DownstreamRetries int           `env:"DOWNSTREAM_RETRIES" envDefault:"2" validate:"min=0"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" validate:"gt=0"`
}

// WhatsApp configures the provider API and webhook secrets.
type WhatsApp struct {
	APIVersion    string `env:"WHATSAPP_API_VERSION" envDefault:"v21.0" validate:"required"`
	BaseURL       string `env:"WHATSAPP_BASE_URL" envDefault:"https://graph.facebook.com" validate:"required,url"`
	PhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID" validate:"required"`
	// BusinessAccountID, when set, restricts webhook processing to entries
	// for that account.
	BusinessAccountID string `env:"WHATSAPP_BUSINESS_ACCOUNT_ID"`
	AccessToken       string `env:"WHATSAPP_ACCESS_TOKEN" validate:"required"`
	VerifyToken       string `env:"WHATSAPP_VERIFY_TOKEN" validate:"required"`
	AppSecret         string `env:"WHATSAPP_APP_SECRET"`
	WelcomeTemplate   string `env:"WHATSAPP_WELCOME_TEMPLATE" envDefault:"lead_welcome" validate:"required"`
	TemplateLanguage  string `env:"WHATSAPP_TEMPLATE_LANGUAGE" envDefault:"en" validate:"required"`
}

// SecretGetter fetches several parameters at once.
type SecretGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// Parse reads the process environment without validating it. Call
// ApplySecrets and then Validate.
func Parse() (*Config, error) {
	return parse(env.Options{})
}

// ParseMap reads configuration from the given variables only.
func ParseMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.WhatsApp.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.WhatsApp.BaseURL), "/")
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	cfg.ScoreDenominator = strings.ToLower(strings.TrimSpace(cfg.ScoreDenominator))
	cfg.DefaultCountryCode = strings.TrimPrefix(strings.TrimSpace(cfg.DefaultCountryCode), "+")
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Parameter names under PARAM_PREFIX.
func (c *Config) accessTokenParam() string { return c.ParamPrefix + "/whatsapp/access-token" }
func (c *Config) verifyTokenParam() string { return c.ParamPrefix + "/whatsapp/verify-token" }
func (c *Config) appSecretParam() string   { return c.ParamPrefix + "/whatsapp/app-secret" }

// ApplySecrets overrides the provider secrets with values from Parameter
// Store. It is a no-op when PARAM_PREFIX is unset.
func (c *Config) ApplySecrets(ctx context.Context, getter SecretGetter) error {
	if c.ParamPrefix == "" {
		return nil
	}
	if getter == nil {
		return fmt.Errorf("config: PARAM_PREFIX is set but no parameter getter was provided")
	}
	values, err := getter.GetParameters(ctx, c.accessTokenParam(), c.verifyTokenParam(), c.appSecretParam())
	if err != nil {
		return fmt.Errorf("config: load secrets: %w", err)
	}
	c.WhatsApp.AccessToken = strings.TrimSpace(values[c.accessTokenParam()])
	c.WhatsApp.VerifyToken = strings.TrimSpace(values[c.verifyTokenParam()])
	c.WhatsApp.AppSecret = strings.TrimSpace(values[c.appSecretParam()])
	return nil
}

// UsesParamStore reports whether secrets come from Parameter Store.
func (c *Config) UsesParamStore() bool {
	return c.ParamPrefix != ""
}
