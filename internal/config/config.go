// Package config loads and validates all environment variables at startup.
// Every other package receives typed values; nothing reads os.Getenv directly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the fully-parsed application configuration.
type Config struct {
	// ── Server ────────────────────────────────────────────────────────────────
	Port           string   `envconfig:"PORT" default:"8080"`
	Env            string   `envconfig:"ENV" default:"development"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	// ProcessorToken, when set, must be sent as X-Processor-Token to the
	// manual trigger endpoint.
	ProcessorToken string `envconfig:"PROCESSOR_TOKEN"`
	// PreviewPerMinute caps synchronous preview generations per client IP.
	PreviewPerMinute int `envconfig:"PREVIEW_PER_MINUTE" default:"10"`

	// ── Database ──────────────────────────────────────────────────────────────
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"true"`

	// ── Stripe ────────────────────────────────────────────────────────────────
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Currency            string `envconfig:"CURRENCY" default:"usd"`
	PricePerEmailCents  int64  `envconfig:"PRICE_PER_EMAIL_CENTS" default:"5"`
	CheckoutSuccessURL  string `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:5173/thank-you?session_id={CHECKOUT_SESSION_ID}"`
	CheckoutCancelURL   string `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:5173/"`

	// ── Generation ────────────────────────────────────────────────────────────
	// GenerationProvider is "gemini" or "deepseek".
	GenerationProvider    string        `envconfig:"GENERATION_PROVIDER" default:"gemini"`
	GeminiAPIKey          string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel           string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	GeminiBaseURL         string        `envconfig:"GEMINI_BASE_URL"`
	DeepSeekAPIKey        string        `envconfig:"DEEPSEEK_API_KEY"`
	DeepSeekModel         string        `envconfig:"DEEPSEEK_MODEL" default:"deepseek-chat"`
	DeepSeekBaseURL       string        `envconfig:"DEEPSEEK_BASE_URL"`
	GenerationTimeout     time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	GenerationConcurrency int           `envconfig:"GENERATION_CONCURRENCY" default:"1"`
	GenerationRatePerSec  float64       `envconfig:"GENERATION_RATE_PER_SEC" default:"0"`

	// ── Email ─────────────────────────────────────────────────────────────────
	// EmailProvider is "postmark" or "smtp".
	EmailProvider       string `envconfig:"EMAIL_PROVIDER" default:"postmark"`
	PostmarkServerToken string `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkBaseURL     string `envconfig:"POSTMARK_BASE_URL"`
	SMTPHost            string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort            int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser            string `envconfig:"SMTP_USER"`
	SMTPPassword        string `envconfig:"SMTP_PASSWORD"`
	EmailFromAddr       string `envconfig:"EMAIL_FROM_ADDR" default:"sequences@example.com"`
	EmailFromName       string `envconfig:"EMAIL_FROM_NAME" default:"Email Sequences"`

	// ── Artifact archive (optional) ───────────────────────────────────────────
	// Archiving is on when S3_BUCKET is set.
	S3Bucket          string        `envconfig:"S3_BUCKET"`
	S3Region          string        `envconfig:"S3_REGION" default:"auto"`
	S3Endpoint        string        `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID     string        `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Prefix          string        `envconfig:"S3_PREFIX" default:"orders"`
	S3LinkTTL         time.Duration `envconfig:"S3_LINK_TTL" default:"168h"`

	// ── Worker ────────────────────────────────────────────────────────────────
	// SchedulerEnabled runs the periodic processor inside the API server.
	// Turn it off when an external cron drives cmd/processor instead.
	SchedulerEnabled bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	WorkerCount      int           `envconfig:"WORKER_COUNT" default:"2"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`
	JobTimeout       time.Duration `envconfig:"JOB_TIMEOUT" default:"20m"`
	StaleAfter       time.Duration `envconfig:"STALE_AFTER" default:"30m"`
	MaxAttempts      int           `envconfig:"MAX_ATTEMPTS" default:"3"`
}

// Load reads all environment variables and returns a validated Config.
// It loads a .env file from the working directory when present, so plain
// `go run ./cmd/api` works in development. Real environment variables always
// take precedence over .env values.
func Load() (*Config, error) {
	return load(true)
}

// LoadProcessor is Load for the standalone processor, which never talks to
// Stripe and so does not require its keys.
func LoadProcessor() (*Config, error) {
	return load(false)
}

func load(payments bool) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, c.validate(payments)
}

// GenerationCredential returns the API key of the selected provider.
func (c *Config) GenerationCredential() string {
	if c.GenerationProvider == "deepseek" {
		return c.DeepSeekAPIKey
	}
	return c.GeminiAPIKey
}

// ArchiveEnabled reports whether finished CSVs are uploaded to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

func (c *Config) validate(payments bool) error {
	var errs []error

	type envVar struct{ name, val string }
	required := []envVar{{"DATABASE_URL", c.DatabaseURL}}
	if payments {
		required = append(required,
			envVar{"STRIPE_SECRET_KEY", c.StripeSecretKey},
			envVar{"STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret},
		)
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("missing required env var: %s", r.name))
		}
	}

	switch c.GenerationProvider {
	case "gemini", "deepseek":
		if c.GenerationCredential() == "" {
			errs = append(errs, fmt.Errorf("GENERATION_PROVIDER=%s needs its API key set", c.GenerationProvider))
		}
	default:
		errs = append(errs, fmt.Errorf("GENERATION_PROVIDER must be gemini or deepseek, got %q", c.GenerationProvider))
	}

	switch c.EmailProvider {
	case "postmark":
		if c.PostmarkServerToken == "" {
			errs = append(errs, errors.New("missing required env var: POSTMARK_SERVER_TOKEN"))
		}
	case "smtp":
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("missing required env var: SMTP_HOST"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER must be postmark or smtp, got %q", c.EmailProvider))
	}

	if c.GenerationConcurrency < 1 {
		errs = append(errs, errors.New("GENERATION_CONCURRENCY must be at least 1"))
	}
	if c.PricePerEmailCents < 0 {
		errs = append(errs, errors.New("PRICE_PER_EMAIL_CENTS must not be negative"))
	}
	if c.WorkerCount < 1 || c.MaxAttempts < 1 {
		errs = append(errs, errors.New("WORKER_COUNT and MAX_ATTEMPTS must be at least 1"))
	}
	// An invocation must be cancelled before its order can be reclaimed.
	if c.JobTimeout >= c.StaleAfter {
		errs = append(errs, fmt.Errorf("JOB_TIMEOUT (%s) must be shorter than STALE_AFTER (%s)", c.JobTimeout, c.StaleAfter))
	}

	return errors.Join(errs...)
}
