package config

import (
	"strings"
)

// Environment variables that override file values when set.
const (
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvTwilioSID      = "TWILIO_ACCOUNT_SID"
	EnvTwilioToken    = "TWILIO_AUTH_TOKEN"
	EnvTwilioFrom     = "TWILIO_WHATSAPP_NUMBER"
	EnvTimezone       = "DEFAULT_TIMEZONE"
	EnvPlatform       = "MESSAGING_PLATFORM"
	EnvDatabasePath   = "DATABASE_PATH"
	EnvLogLevel       = "LOG_LEVEL"
	EnvHTTPAddr       = "HTTP_ADDR"
	EnvCompletionBase = "OPENAI_BASE_URL"
)

// ApplyEnv copies non-empty environment values over cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Completion.APIKey, EnvOpenAIKey)
	set(&cfg.Completion.BaseURL, EnvCompletionBase)
	set(&cfg.WhatsApp.AccountSID, EnvTwilioSID)
	set(&cfg.WhatsApp.AuthToken, EnvTwilioToken)
	set(&cfg.WhatsApp.From, EnvTwilioFrom)
	set(&cfg.Reminder.Timezone, EnvTimezone)
	set(&cfg.Storage.Path, EnvDatabasePath)
	set(&cfg.Logging.Level, EnvLogLevel)
	set(&cfg.HTTP.Addr, EnvHTTPAddr)
	if v := strings.TrimSpace(getenv(EnvPlatform)); v != "" {
		cfg.Platform = strings.ToLower(v)
	}
}
