package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Settings is a Config with defaults applied and every string field parsed.
type Settings struct {
	Platform string
	Location *time.Location

	PollInterval       time.Duration
	DeliveryTimeout    time.Duration
	CompletionTimeout  time.Duration
	DeliveryRatePerSec float64
	DeliveryRetryMax   int
	MaxPendingPerOwner int

	TelegramPollTimeout time.Duration
	StorageDriver       string
	StoragePath         string
	StorageBusyTimeout  time.Duration

	HTTPEnabled bool
	HTTPAddr    string

	// SemanticEnabled is false when no completion api key is configured.
	SemanticEnabled bool
}

// durations collects parse errors so Settings reports all of them at once.
type durations struct{ errs []error }

func (d *durations) parse(path, raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	switch {
	case err != nil:
		d.errs = append(d.errs, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err))
		return def
	case v < 0:
		d.errs = append(d.errs, fmt.Errorf("%s: duration must be >= 0", path))
		return def
	case v == 0:
		return def
	}
	return v
}

// Settings resolves defaults. It does not check credentials; see Validate.
func (c *Config) Settings() (Settings, error) {
	if c == nil {
		c = &Config{}
	}
	var d durations
	s := Settings{
		Platform:            strings.ToLower(strings.TrimSpace(c.Platform)),
		PollInterval:        d.parse("reminder.poll_interval", c.Reminder.PollInterval, time.Minute),
		DeliveryTimeout:     d.parse("reminder.delivery_timeout", c.Reminder.DeliveryTimeout, 15*time.Second),
		CompletionTimeout:   d.parse("reminder.completion_timeout", c.Reminder.CompletionTimeout, 20*time.Second),
		TelegramPollTimeout: d.parse("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second),
		StorageBusyTimeout:  d.parse("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second),
		DeliveryRatePerSec:  c.Reminder.DeliveryRatePerSec,
		DeliveryRetryMax:    0,
		MaxPendingPerOwner:  DefaultMaxPending,
		StorageDriver:       strings.ToLower(strings.TrimSpace(c.Storage.Driver)),
		StoragePath:         strings.TrimSpace(c.Storage.Path),
		HTTPEnabled:         c.HTTP.Enabled,
		HTTPAddr:            strings.TrimSpace(c.HTTP.Addr),
		SemanticEnabled:     strings.TrimSpace(c.Completion.APIKey) != "",
	}
	errs := d.errs

	if s.Platform == "" {
		s.Platform = PlatformTelegram
	}
	if s.Platform != PlatformTelegram && s.Platform != PlatformWhatsApp {
		errs = append(errs, fmt.Errorf("platform: unknown %q (want telegram or whatsapp)", c.Platform))
	}
	if s.Platform == PlatformWhatsApp {
		s.HTTPEnabled = true
	}
	if s.HTTPAddr == "" {
		s.HTTPAddr = DefaultHTTPAddr
	}

	tz := strings.TrimSpace(c.Reminder.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("reminder.timezone: %w", err))
		loc = time.UTC
	}
	s.Location = loc

	if s.DeliveryRatePerSec < 0 {
		errs = append(errs, errors.New("reminder.delivery_rate_per_sec must be >= 0"))
	}
	if s.DeliveryRatePerSec == 0 {
		s.DeliveryRatePerSec = 5
	}
	if p := c.Reminder.DeliveryRetryMax; p != nil {
		if *p < 0 {
			errs = append(errs, errors.New("reminder.delivery_retry_max must be >= 0"))
		} else {
			s.DeliveryRetryMax = *p
		}
	}
	if p := c.Reminder.MaxPendingPerOwner; p != nil {
		if *p < 0 {
			errs = append(errs, errors.New("reminder.max_pending_per_owner must be >= 0"))
		} else {
			s.MaxPendingPerOwner = *p
		}
	}

	if s.StorageDriver == "" {
		s.StorageDriver = "sqlite"
	}
	if s.StoragePath == "" {
		s.StoragePath = DefaultStoragePath
	}
	return s, errors.Join(errs...)
}

// Validate checks that cfg can start the bot on its platform.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	s, err := cfg.Settings()
	errs := []error{err}
	switch s.Platform {
	case PlatformTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken))
		}
	case PlatformWhatsApp:
		if strings.TrimSpace(cfg.WhatsApp.AccountSID) == "" || strings.TrimSpace(cfg.WhatsApp.AuthToken) == "" {
			errs = append(errs, fmt.Errorf("whatsapp.account_sid and whatsapp.auth_token are required (or set %s, %s)", EnvTwilioSID, EnvTwilioToken))
		}
	}
	switch s.StorageDriver {
	case "sqlite", "sqlite3", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.Target) == "" {
		errs = append(errs, errors.New("logging.chat.target is required when logging.chat.enabled"))
	}
	return errors.Join(errs...)
}
