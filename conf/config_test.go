package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
delta:
  base-url: "https://api.example.com"
  api-key: "k"
  api-secret: "s"
`)
	if err := LoadConfig(path); err != nil {
		t.Fatal(err)
	}
	c := &AppConfig
	if c.Delta.AuthMode != "hmac" {
		t.Fatalf("auth mode = %q", c.Delta.AuthMode)
	}
	if c.Delta.HeaderApiKey != "api-key" || c.Delta.HeaderSignature != "signature" || c.Delta.HeaderTimestamp != "timestamp" {
		t.Fatalf("header defaults: %+v", c.Delta)
	}
	if c.Trading.MarginBufferPct != 0.03 {
		t.Fatalf("margin buffer = %v", c.Trading.MarginBufferPct)
	}
	if c.Trading.SignalChainWindowMs != 120000 {
		t.Fatalf("window = %d", c.Trading.SignalChainWindowMs)
	}
	if !c.Trading.StrictSeq() {
		t.Fatal("strict sequence must default on")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DELTA_API_KEY", "env-key")
	t.Setenv("DELTA_API_SECRET", "env-secret")
	t.Setenv("WEBHOOK_TOKEN", "env-token")
	path := writeConfig(t, `
listen: ":8080"
delta:
  base-url: "https://api.example.com"
  api-key: "file-key"
  api-secret: "file-secret"
`)
	if err := LoadConfig(path); err != nil {
		t.Fatal(err)
	}
	if AppConfig.Delta.ApiKey != "env-key" || AppConfig.Delta.ApiSecret != "env-secret" {
		t.Fatalf("env override lost: %+v", AppConfig.Delta)
	}
	if AppConfig.Webhook.Token != "env-token" {
		t.Fatalf("token = %q", AppConfig.Webhook.Token)
	}
}

func TestLoadConfigMissingBaseURL(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
delta:
  api-key: "k"
  api-secret: "s"
`)
	if err := LoadConfig(path); err == nil {
		t.Fatal("want validation error without base-url")
	}
}

func TestLoadConfigHmacNeedsSecret(t *testing.T) {
	t.Setenv("DELTA_API_SECRET", "")
	path := writeConfig(t, `
listen: ":8080"
delta:
  base-url: "https://api.example.com"
  api-key: "k"
`)
	if err := LoadConfig(path); err == nil {
		t.Fatal("want error: hmac mode without secret")
	}
}
