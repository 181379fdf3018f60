package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/ingestd/internal/config"
)

const validBaseYAML = `
server:
  port: 8443
database:
  dsn: "postgres://localhost/ingestd"
audio:
  recordings_dir: "/tmp/rec"
transcriber:
  backend: local
  local:
    model_path: "/models/ggml-base.en.bin"
oidc:
  authority: "https://idp.example.com"
  client_id: "ingestd"
`

func TestValidate_Valid(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(validBaseYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: 70000
database:
  dsn: "postgres://localhost/ingestd"
audio:
  recordings_dir: "/tmp/rec"
transcriber:
  backend: local
  local:
    model_path: "/models/ggml-base.en.bin"
oidc:
  authority: "https://idp.example.com"
  client_id: "ingestd"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range port, got nil")
	}
	if !strings.Contains(err.Error(), "port") {
		t.Errorf("error should mention port, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: 8443
  log_level: verbose
database:
  dsn: "postgres://localhost/ingestd"
audio:
  recordings_dir: "/tmp/rec"
transcriber:
  backend: local
  local:
    model_path: "/models/ggml-base.en.bin"
oidc:
  authority: "https://idp.example.com"
  client_id: "ingestd"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingDatabaseDSN(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: 8443
audio:
  recordings_dir: "/tmp/rec"
transcriber:
  backend: local
  local:
    model_path: "/models/ggml-base.en.bin"
oidc:
  authority: "https://idp.example.com"
  client_id: "ingestd"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing database.dsn, got nil")
	}
	if !strings.Contains(err.Error(), "database.dsn") {
		t.Errorf("error should mention database.dsn, got: %v", err)
	}
}

func TestValidate_InvalidTranscriberBackend(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: 8443
database:
  dsn: "postgres://localhost/ingestd"
audio:
  recordings_dir: "/tmp/rec"
transcriber:
  backend: teleprompter
oidc:
  authority: "https://idp.example.com"
  client_id: "ingestd"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid transcriber.backend, got nil")
	}
	if !strings.Contains(err.Error(), "transcriber.backend") {
		t.Errorf("error should mention transcriber.backend, got: %v", err)
	}
}

func TestValidate_CloudBackendRequiresCredentials(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: 8443
database:
  dsn: "postgres://localhost/ingestd"
audio:
  recordings_dir: "/tmp/rec"
transcriber:
  backend: cloud
oidc:
  authority: "https://idp.example.com"
  client_id: "ingestd"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for cloud backend missing credentials, got nil")
	}
	if !strings.Contains(err.Error(), "transcriber.cloud.api_key") {
		t.Errorf("error should mention transcriber.cloud.api_key, got: %v", err)
	}
	if !strings.Contains(err.Error(), "transcriber.cloud.endpoint") {
		t.Errorf("error should mention transcriber.cloud.endpoint, got: %v", err)
	}
}

func TestValidate_MissingOIDC(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: 8443
database:
  dsn: "postgres://localhost/ingestd"
audio:
  recordings_dir: "/tmp/rec"
transcriber:
  backend: local
  local:
    model_path: "/models/ggml-base.en.bin"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing oidc fields, got nil")
	}
	if !strings.Contains(err.Error(), "oidc.authority") {
		t.Errorf("error should mention oidc.authority, got: %v", err)
	}
	if !strings.Contains(err.Error(), "oidc.client_id") {
		t.Errorf("error should mention oidc.client_id, got: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: -1
transcriber:
  backend: bogus
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "port") || !strings.Contains(errStr, "transcriber.backend") {
		t.Errorf("expected joined errors to mention both port and transcriber.backend, got: %v", err)
	}
}
