package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "shop-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "shop-dev" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "shop-dev" {
		t.Errorf("expected events project to default to firestore project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Events.Topic != defaultEventTopic {
		t.Errorf("expected default events topic, got %s", cfg.Events.Topic)
	}
	if cfg.Events.Enabled {
		t.Errorf("expected events publishing disabled by default")
	}
	if cfg.PSP.DefaultGateway != "stripe" {
		t.Errorf("expected default gateway stripe, got %s", cfg.PSP.DefaultGateway)
	}
	if cfg.Checkout.Currency != defaultCurrency {
		t.Errorf("expected default currency, got %s", cfg.Checkout.Currency)
	}
	if cfg.Checkout.OrderNumberPrefix != defaultOrderPrefix {
		t.Errorf("expected default order prefix, got %s", cfg.Checkout.OrderNumberPrefix)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_SERVER_READ_TIMEOUT":       "20s",
		"API_SERVER_WRITE_TIMEOUT":      "25s",
		"API_SERVER_IDLE_TIMEOUT":       "2m",
		"API_FIRESTORE_PROJECT_ID":      "shop-prod",
		"API_PSP_STRIPE_API_KEY":        "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "secret://stripe/webhook",
		"API_PSP_DEFAULT_GATEWAY":       "stripe",
		"API_EVENTS_PROJECT_ID":         "shop-events",
		"API_EVENTS_TOPIC":              "orders-prod",
		"API_EVENTS_ENABLED":            "true",
		"API_CHECKOUT_CURRENCY":         "EUR",
		"API_CHECKOUT_ORDER_PREFIX":     "SP",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "secret://stripe/api":
			return "sk_live_123", nil
		case "secret://stripe/webhook":
			return "whsec_456", nil
		}
		return "", errors.New("unknown ref " + ref)
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected write timeout: %s", cfg.Server.WriteTimeout)
	}
	if cfg.PSP.StripeAPIKey != "sk_live_123" {
		t.Errorf("expected resolved stripe key, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "whsec_456" {
		t.Errorf("expected resolved webhook secret, got %s", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.Events.ProjectID != "shop-events" {
		t.Errorf("unexpected events project: %s", cfg.Events.ProjectID)
	}
	if cfg.Events.Topic != "orders-prod" {
		t.Errorf("unexpected events topic: %s", cfg.Events.Topic)
	}
	if !cfg.Events.Enabled {
		t.Errorf("expected events enabled")
	}
	if cfg.Checkout.Currency != "eur" {
		t.Errorf("expected lowercased currency, got %s", cfg.Checkout.Currency)
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "shop-dev",
		"API_PSP_STRIPE_API_KEY":   "sm://stripe/api",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		return "", errors.New("backend unavailable")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err == nil {
		t.Fatalf("expected error from secret resolution")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Errorf("expected normalised secret ref, got %s", secretErr.Ref)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validationErr.Fields()
	found := false
	for _, field := range fields {
		if field == "Firestore.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Firestore.ProjectID in %v", fields)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	contents := "API_FIRESTORE_PROJECT_ID=shop-local\nexport API_SERVER_PORT=7070\n# comment\nAPI_CHECKOUT_CURRENCY=\"jpy\"\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firestore.ProjectID != "shop-local" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Checkout.Currency != "jpy" {
		t.Errorf("expected quotes stripped from currency, got %s", cfg.Checkout.Currency)
	}
}
