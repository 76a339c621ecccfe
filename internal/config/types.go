package config

// Config is the on-disk configuration (JSON or YAML). All durations are Go
// duration strings (e.g. "500ms", "10s", "1m").
//
// Secrets may be left empty in the file and supplied through the
// environment; see ApplyEnv.
type Config struct {
	// Platform selects the chat channel: "telegram" (default) or "whatsapp".
	Platform   string           `json:"platform"`
	Telegram   TelegramConfig   `json:"telegram"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Completion CompletionConfig `json:"completion"`
	Reminder   ReminderConfig   `json:"reminder"`
	Storage    StorageConfig    `json:"storage"`
	HTTP       HTTPConfig       `json:"http"`
	Logging    LoggingConfig    `json:"logging"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	MaxInflight int    `json:"max_inflight,omitempty"`
}

type WhatsAppConfig struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	// From is the sender address, e.g. "whatsapp:+14155238886".
	From    string `json:"from,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// CompletionConfig configures the OpenAI-compatible endpoint. Without an
// api_key the semantic resolver is disabled.
type CompletionConfig struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ReminderConfig controls resolution and dispatch.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Asia/Kolkata"
//   - poll_interval: "1m"
//   - delivery_timeout: "15s"
//   - completion_timeout: "20s"
//   - delivery_rate_per_sec: 5
//   - delivery_retry_max: 0 (failed sends wait for the next poll tick)
//   - max_pending_per_owner: 50 (explicit 0 disables the cap)
type ReminderConfig struct {
	Timezone           string  `json:"timezone"`
	PollInterval       string  `json:"poll_interval,omitempty"`
	DeliveryTimeout    string  `json:"delivery_timeout,omitempty"`
	CompletionTimeout  string  `json:"completion_timeout,omitempty"`
	DeliveryRatePerSec float64 `json:"delivery_rate_per_sec,omitempty"`
	DeliveryRetryMax   *int    `json:"delivery_retry_max,omitempty"`
	MaxPendingPerOwner *int    `json:"max_pending_per_owner,omitempty"`
}

// StorageConfig controls the task store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reminders.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HTTPConfig controls the gin server (webhook, health, admin, metrics).
// The server is always on for the whatsapp platform.
type HTTPConfig struct {
	Enabled bool      `json:"enabled"`
	Addr    string    `json:"addr,omitempty"` // default ":5000"
	Pprof   HTTPPprof `json:"pprof"`
}

// HTTPPprof mounts /debug/pprof on the same server. Set a token when the
// server listens beyond loopback.
type HTTPPprof struct {
	Enabled              bool   `json:"enabled"`
	Token                string `json:"token,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ log lines to an operator owner id on the
// active platform.
type LoggingChat struct {
	Enabled    bool    `json:"enabled"`
	Target     string  `json:"target"`
	MinLevel   string  `json:"min_level"`
	RatePerSec float64 `json:"rate_per_sec"`
}

const (
	PlatformTelegram = "telegram"
	PlatformWhatsApp = "whatsapp"

	DefaultTimezone    = "Asia/Kolkata"
	DefaultMaxPending  = 50
	DefaultHTTPAddr    = ":5000"
	DefaultStoragePath = "reminders.db"
)
