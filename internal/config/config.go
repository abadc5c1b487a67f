package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM          LLMConfig
	Server       ServerConfig
	WhatsApp     WhatsAppConfig     `mapstructure:"whatsapp"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Dedup        DedupConfig        `mapstructure:"dedup"`
	Journal      JournalConfig      `mapstructure:"journal"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Log          LogConfig          `mapstructure:"log"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Temperature  float32       `mapstructure:"temperature"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	// Workers bounds how many messages of one webhook delivery run at once.
	Workers int `mapstructure:"workers"`
}

// WhatsAppConfig holds the WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	APIBase     string        `mapstructure:"api_base"`
	PhoneID     string        `mapstructure:"phone_id"`
	Token       string        `mapstructure:"token"`
	VerifyToken string        `mapstructure:"verify_token"`
	AppID       string        `mapstructure:"app_id"`
	AppSecret   string        `mapstructure:"app_secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ConversationConfig controls per-sender memory.
type ConversationConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	MaxSenders   int           `mapstructure:"max_senders"`
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
	MaxSentences int           `mapstructure:"max_sentences"`
}

// DedupConfig bounds the set of remembered webhook message ids.
type DedupConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// JournalConfig points at the SQLite delivery journal.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// AdminConfig protects the administrative endpoints when Token is set.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// envAliases keeps the variable names used by existing deployments working.
var envAliases = map[string]string{
	"whatsapp.phone_id":     "PHONE_ID",
	"whatsapp.token":        "TOKEN",
	"whatsapp.verify_token": "VERIFY_TOKEN",
	"whatsapp.app_id":       "APP_ID",
	"whatsapp.app_secret":   "APP_SECRET",
	"llm.api_key":           "GROQ_API_KEY",
	"journal.path":          "HISTORY_DB_PATH",
}

// setDefaults registers every key, including empty ones, so that
// AutomaticEnv can override keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.workers", 4)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "llama3-8b-8192")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("whatsapp.api_base", "https://graph.facebook.com/v23.0")
	v.SetDefault("whatsapp.phone_id", "")
	v.SetDefault("whatsapp.token", "")
	v.SetDefault("whatsapp.verify_token", "")
	v.SetDefault("whatsapp.app_id", "")
	v.SetDefault("whatsapp.app_secret", "")
	v.SetDefault("whatsapp.timeout", 10*time.Second)

	v.SetDefault("conversation.capacity", 6)
	v.SetDefault("conversation.max_senders", 0)
	v.SetDefault("conversation.idle_ttl", 0)
	v.SetDefault("conversation.max_sentences", 3)

	v.SetDefault("dedup.size", 1024)
	v.SetDefault("dedup.ttl", 24*time.Hour)

	v.SetDefault("journal.path", "deliveries.db")
	v.SetDefault("admin.token", "")
	v.SetDefault("log.level", "info")
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH) and the environment. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "RELAY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
