package app

import (
	"errors"
	"fmt"
	"math"
	"time"

	"remindbot/internal/completion"
	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/pprof"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	"remindbot/internal/transport/whatsapp"
	logx "remindbot/pkg/logx"
)

// DispatchJob is the scheduler job name of the reminder scan.
const DispatchJob = "reminder.dispatch"

// NewResolver builds the resolver chain. Without a completion api key the
// semantic layer is left out.
func NewResolver(cfg *config.Config, s config.Settings, log logx.Logger) (*reminder.Orchestrator, error) {
	if !s.SemanticEnabled {
		log.Info("completion api key not set; semantic resolver disabled")
		return reminder.NewOrchestrator(nil, log.With(logx.String("comp", "resolver"))), nil
	}
	cl, err := completion.New(completion.Config{
		BaseURL:   cfg.Completion.BaseURL,
		APIKey:    cfg.Completion.APIKey,
		Model:     cfg.Completion.Model,
		MaxTokens: cfg.Completion.MaxTokens,
		Timeout:   s.CompletionTimeout + 5*time.Second,
	}, completion.WithLogger(log))
	if err != nil {
		return nil, err
	}
	sem := reminder.NewSemanticResolver(cl, s.Location,
		reminder.WithCompletionTimeout(s.CompletionTimeout),
		reminder.WithSemanticLogger(log.With(logx.String("comp", "semantic"))),
	)
	return reminder.NewOrchestrator(sem, log.With(logx.String("comp", "resolver"))), nil
}

// OpenStore opens the configured task store. Storage is mandatory here.
func OpenStore(s config.Settings, log logx.Logger) (storage.Store, error) {
	st, err := storage.Open(storage.Config{
		Driver:      s.StorageDriver,
		Path:        s.StoragePath,
		BusyTimeout: s.StorageBusyTimeout,
	}, log)
	if errors.Is(err, storage.ErrDisabled) {
		return nil, fmt.Errorf("storage.driver must be sqlite or file: %w", err)
	}
	return st, err
}

// NewAdapter builds the chat adapter for the configured platform.
func NewAdapter(cfg *config.Config, s config.Settings, log logx.Logger) (transport.Adapter, error) {
	switch s.Platform {
	case config.PlatformTelegram:
		return telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: s.TelegramPollTimeout,
			MaxInflight: cfg.Telegram.MaxInflight,
		}, log)
	case config.PlatformWhatsApp:
		return whatsapp.New(whatsapp.Config{
			AccountSID: cfg.WhatsApp.AccountSID,
			AuthToken:  cfg.WhatsApp.AuthToken,
			From:       cfg.WhatsApp.From,
			BaseURL:    cfg.WhatsApp.BaseURL,
			Timeout:    s.DeliveryTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown platform %q", s.Platform)
	}
}

func notifierConfig(s config.Settings) notifier.Config {
	return notifier.Config{
		RatePerSec:  s.DeliveryRatePerSec,
		SendTimeout: s.DeliveryTimeout,
		RetryMax:    s.DeliveryRetryMax,
	}
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			Target:     l.Chat.Target,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: int(math.Ceil(l.Chat.RatePerSec)),
		},
	}
}

func pprofConfig(cfg *config.Config) pprof.Config {
	p := cfg.HTTP.Pprof
	return pprof.Config{
		Enabled:              p.Enabled,
		Token:                p.Token,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}

// menuCommands is the Telegram command menu.
var menuCommands = []transport.BotCommand{
	{Command: "start", Description: "Show the welcome message"},
	{Command: "list", Description: "View your pending reminders"},
	{Command: "help", Description: "How to write a reminder"},
}
