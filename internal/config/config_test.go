package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseJSONAndYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jp := writeFile(t, dir, "c.json", `{"platform":"telegram","telegram":{"token":"abc"},"reminder":{"timezone":"UTC","poll_interval":"30s"}}`)
	yp := writeFile(t, dir, "c.yaml", "platform: telegram\ntelegram:\n  token: abc\nreminder:\n  timezone: UTC\n  poll_interval: 30s\n")

	for _, p := range []string{jp, yp} {
		m := NewConfigManager(p)
		m.SetEnv(noEnv)
		cfg, err := m.Load()
		require.NoError(t, err, p)
		assert.Equal(t, "abc", cfg.Telegram.Token)
		assert.Equal(t, "30s", cfg.Reminder.PollInterval)
		assert.Same(t, cfg, m.Get())
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	m := NewConfigManager(writeFile(t, dir, "unknown.json", `{"telegram":{"token":"x","owner":1}}`))
	m.SetEnv(noEnv)
	_, err := m.Parse()
	assert.ErrorContains(t, err, "unknown field")

	m = NewConfigManager(writeFile(t, dir, "trail.json", `{"platform":"telegram"} {}`))
	m.SetEnv(noEnv)
	_, err = m.Parse()
	assert.ErrorContains(t, err, "trailing data")

	m = NewConfigManager(writeFile(t, dir, "bad.yml", "storage: [unclosed\n"))
	m.SetEnv(noEnv)
	_, err = m.Parse()
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "c.json", `{"telegram":{"token":"file"},"storage":{"path":"a.db"}}`)
	env := map[string]string{
		EnvTelegramToken: "env-token",
		EnvDatabasePath:  "b.db",
		EnvPlatform:      "WhatsApp",
		EnvOpenAIKey:     "sk-1",
	}
	m := NewConfigManager(p)
	m.SetEnv(func(k string) string { return env[k] })
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "b.db", cfg.Storage.Path)
	assert.Equal(t, PlatformWhatsApp, cfg.Platform)
	assert.Equal(t, "sk-1", cfg.Completion.APIKey)
}

func TestEmptyPathUsesEnvironmentOnly(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.SetEnv(func(k string) string {
		if k == EnvTelegramToken {
			return "t"
		}
		return ""
	})
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "t", cfg.Telegram.Token)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Watch(ctx))
}

func TestSettingsDefaults(t *testing.T) {
	t.Parallel()
	s, err := (&Config{}).Settings()
	require.NoError(t, err)
	assert.Equal(t, PlatformTelegram, s.Platform)
	assert.Equal(t, DefaultTimezone, s.Location.String())
	assert.Equal(t, time.Minute, s.PollInterval)
	assert.Equal(t, 15*time.Second, s.DeliveryTimeout)
	assert.Equal(t, 20*time.Second, s.CompletionTimeout)
	assert.Equal(t, float64(5), s.DeliveryRatePerSec)
	assert.Equal(t, 0, s.DeliveryRetryMax)
	assert.Equal(t, DefaultMaxPending, s.MaxPendingPerOwner)
	assert.Equal(t, "sqlite", s.StorageDriver)
	assert.Equal(t, DefaultStoragePath, s.StoragePath)
	assert.Equal(t, DefaultHTTPAddr, s.HTTPAddr)
	assert.False(t, s.HTTPEnabled)
	assert.False(t, s.SemanticEnabled)
}

func TestSettingsOverridesAndErrors(t *testing.T) {
	t.Parallel()
	zero := 0
	cfg := &Config{
		Platform:   "whatsapp",
		Completion: CompletionConfig{APIKey: "k"},
		Reminder: ReminderConfig{
			Timezone:           "UTC",
			PollInterval:       "10s",
			MaxPendingPerOwner: &zero,
		},
	}
	s, err := cfg.Settings()
	require.NoError(t, err)
	assert.True(t, s.HTTPEnabled)
	assert.True(t, s.SemanticEnabled)
	assert.Equal(t, 10*time.Second, s.PollInterval)
	assert.Equal(t, 0, s.MaxPendingPerOwner)
	assert.Equal(t, time.UTC, s.Location)

	neg := -1
	bad := &Config{
		Platform: "signal",
		Reminder: ReminderConfig{
			Timezone:         "Mars/Base",
			PollInterval:     "soon",
			DeliveryTimeout:  "-1s",
			DeliveryRetryMax: &neg,
		},
	}
	_, err = bad.Settings()
	require.Error(t, err)
	for _, want := range []string{"platform", "reminder.timezone", "reminder.poll_interval", "reminder.delivery_timeout", "reminder.delivery_retry_max"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	assert.ErrorContains(t, Validate(&Config{}), "telegram.token")
	assert.NoError(t, Validate(&Config{Telegram: TelegramConfig{Token: "t"}}))

	wa := &Config{Platform: PlatformWhatsApp}
	assert.ErrorContains(t, Validate(wa), "whatsapp.account_sid")
	wa.WhatsApp = WhatsAppConfig{AccountSID: "AC1", AuthToken: "tok"}
	assert.NoError(t, Validate(wa))

	badStore := &Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Driver: "redis"}}
	assert.ErrorContains(t, Validate(badStore), "storage.driver")

	chat := &Config{Telegram: TelegramConfig{Token: "t"}, Logging: LoggingConfig{Chat: LoggingChat{Enabled: true}}}
	assert.ErrorContains(t, Validate(chat), "logging.chat.target")
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "old-secret"}, Reminder: ReminderConfig{PollInterval: "1m"}}
	b := &Config{Telegram: TelegramConfig{Token: "new-secret"}, Reminder: ReminderConfig{PollInterval: "30s"}}
	changed, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"telegram", "reminder"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"telegram"}, RestartRequired(changed))

	same, _ := SummarizeConfigChange(b, b)
	assert.Empty(t, same)
}

func TestWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"telegram":{"token":"t"},"reminder":{"poll_interval":"1m"}}`)
	m := NewConfigManager(p)
	m.SetEnv(noEnv)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Invalid config is rejected and not published.
	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"reminder":{"poll_interval":"never"}}`), 0o600)
		time.Sleep(60 * time.Millisecond)
		_ = os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"reminder":{"poll_interval":"5s"}}`), 0o600)
		select {
		case got = <-ch:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "5s", got.Reminder.PollInterval)
	assert.Equal(t, "5s", m.Get().Reminder.PollInterval)

	cancel()
	<-done
}
