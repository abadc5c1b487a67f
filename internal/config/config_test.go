package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
  timeout: 5s
server:
  host: 127.0.0.1
  port: "8080"
whatsapp:
  phone_id: "12345"
  token: file-token
  verify_token: hush
conversation:
  capacity: 10
  max_senders: 100
  idle_ttl: 1h
`

// TestLoad_File verifies that Load reads the file named by CONFIG_PATH.
func TestLoad_File(t *testing.T) {
	// Write config to temp file
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(sampleConfig); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, "https://api.example.com", cfg.LLM.BaseURL)
	require.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	require.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	require.Equal(t, "12345", cfg.WhatsApp.PhoneID)
	require.Equal(t, "hush", cfg.WhatsApp.VerifyToken)
	require.Equal(t, 10, cfg.Conversation.Capacity)
	require.Equal(t, 100, cfg.Conversation.MaxSenders)
	require.Equal(t, time.Hour, cfg.Conversation.IdleTTL)
	// untouched keys keep their defaults
	require.Equal(t, 3, cfg.Conversation.MaxSentences)
	require.Equal(t, "https://graph.facebook.com/v23.0", cfg.WhatsApp.APIBase)
}

// TestLoad_Defaults verifies that a missing config.yaml falls back to defaults.
func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	require.Equal(t, "llama3-8b-8192", cfg.LLM.Model)
	require.Equal(t, float32(0), cfg.LLM.Temperature)
	require.Equal(t, 6, cfg.Conversation.Capacity)
	require.Zero(t, cfg.Conversation.MaxSenders)
	require.Zero(t, cfg.Conversation.IdleTTL)
	require.Equal(t, 24*time.Hour, cfg.Dedup.TTL)
}

// TestLoad_EnvAliases verifies the legacy variable names override the file.
func TestLoad_EnvAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("TOKEN", "env-token")
	t.Setenv("VERIFY_TOKEN", "env-verify")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.WhatsApp.Token)
	require.Equal(t, "env-verify", cfg.WhatsApp.VerifyToken)
	require.Equal(t, "gsk-test", cfg.LLM.APIKey)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "12345", cfg.WhatsApp.PhoneID)
}

// TestLoad_AutomaticEnv verifies RELAY_* variables reach keys that have no
// value in the file.
func TestLoad_AutomaticEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("RELAY_ADMIN_TOKEN", "s3cret")
	t.Setenv("RELAY_LLM_SYSTEM_PROMPT", "Answer in French.")
	t.Setenv("RELAY_WHATSAPP_APP_SECRET", "appsecret")
	t.Setenv("RELAY_SERVER_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Admin.Token)
	require.Equal(t, "Answer in French.", cfg.LLM.SystemPrompt)
	require.Equal(t, "appsecret", cfg.WhatsApp.AppSecret)
	require.Equal(t, 8, cfg.Server.Workers)
}
