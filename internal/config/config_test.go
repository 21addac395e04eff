package config

import (
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("POSTMARK_SERVER_TOKEN", "pm-token")
}

func TestLoad_Defaults(t *testing.T) {
	setValidEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "8080" || c.Env != "development" {
		t.Errorf("server defaults: %q %q", c.Port, c.Env)
	}
	if c.PricePerEmailCents != 5 {
		t.Errorf("price: got %d", c.PricePerEmailCents)
	}
	if c.StaleAfter != 30*time.Minute || c.MaxAttempts != 3 {
		t.Errorf("reclaim defaults: %s %d", c.StaleAfter, c.MaxAttempts)
	}
	if c.GenerationTimeout != 60*time.Second || c.GenerationConcurrency != 1 {
		t.Errorf("generation defaults: %s %d", c.GenerationTimeout, c.GenerationConcurrency)
	}
	if c.GenerationCredential() != "gm-key" {
		t.Errorf("credential: got %q", c.GenerationCredential())
	}
	if !strings.Contains(c.CheckoutSuccessURL, "{CHECKOUT_SESSION_ID}") {
		t.Errorf("success url: %q", c.CheckoutSuccessURL)
	}
	if c.ArchiveEnabled() {
		t.Error("archive should be off without S3_BUCKET")
	}
}

func TestLoad_ListsAndOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GENERATION_PROVIDER", "deepseek")
	t.Setenv("DEEPSEEK_API_KEY", "ds-key")
	t.Setenv("JOB_TIMEOUT", "5m")
	t.Setenv("S3_BUCKET", "results")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins: %v", c.AllowedOrigins)
	}
	if c.GenerationCredential() != "ds-key" {
		t.Errorf("credential: got %q", c.GenerationCredential())
	}
	if c.JobTimeout != 5*time.Minute {
		t.Errorf("job timeout: %s", c.JobTimeout)
	}
	if !c.ArchiveEnabled() {
		t.Error("archive should be on")
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("GENERATION_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("EMAIL_PROVIDER", "carrier-pigeon")
	t.Setenv("JOB_TIMEOUT", "45m")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"DATABASE_URL",
		"STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"GENERATION_PROVIDER=gemini",
		"EMAIL_PROVIDER",
		"JOB_TIMEOUT",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestLoadProcessor_StripeKeysOptional(t *testing.T) {
	setValidEnv(t)
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	if _, err := LoadProcessor(); err != nil {
		t.Fatalf("LoadProcessor: %v", err)
	}
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STRIPE_SECRET_KEY") {
		t.Errorf("Load should still require Stripe keys, got %v", err)
	}

	t.Setenv("DATABASE_URL", "")
	if _, err := LoadProcessor(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("LoadProcessor should require DATABASE_URL, got %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	setValidEnv(t)
	t.Setenv("POLL_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Error("expected parse error for POLL_INTERVAL")
	}
}
