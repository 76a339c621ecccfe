package config

import (
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens and api keys are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Platform), strings.TrimSpace(newCfg.Platform)) {
		changed = append(changed, "platform")
		attrs = append(attrs, logx.String("platform", newCfg.Platform))
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.max_inflight", newCfg.Telegram.MaxInflight),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.WhatsApp != newCfg.WhatsApp {
		changed = append(changed, "whatsapp")
		attrs = append(attrs,
			logx.String("whatsapp.from", newCfg.WhatsApp.From),
			logx.Bool("whatsapp.credentials_changed",
				oldCfg.WhatsApp.AccountSID != newCfg.WhatsApp.AccountSID || oldCfg.WhatsApp.AuthToken != newCfg.WhatsApp.AuthToken),
		)
	}

	if oldCfg.Completion != newCfg.Completion {
		changed = append(changed, "completion")
		attrs = append(attrs,
			logx.String("completion.model", newCfg.Completion.Model),
			logx.Bool("completion.key_set", strings.TrimSpace(newCfg.Completion.APIKey) != ""),
		)
	}

	if !reminderEqual(oldCfg.Reminder, newCfg.Reminder) {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.String("reminder.timezone", newCfg.Reminder.Timezone),
			logx.String("reminder.poll_interval", strings.TrimSpace(newCfg.Reminder.PollInterval)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr), logx.Bool("http.pprof", newCfg.HTTP.Pprof.Enabled))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	return changed, attrs
}

func reminderEqual(a, b ReminderConfig) bool {
	return a.Timezone == b.Timezone &&
		a.PollInterval == b.PollInterval &&
		a.DeliveryTimeout == b.DeliveryTimeout &&
		a.CompletionTimeout == b.CompletionTimeout &&
		a.DeliveryRatePerSec == b.DeliveryRatePerSec &&
		intPtrEqual(a.DeliveryRetryMax, b.DeliveryRetryMax) &&
		intPtrEqual(a.MaxPendingPerOwner, b.MaxPendingPerOwner)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "platform", "telegram", "whatsapp", "completion", "storage", "http":
			out = append(out, s)
		}
	}
	return out
}
