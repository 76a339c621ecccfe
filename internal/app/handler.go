package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Outcome statuses returned by Handler.Handle.
const (
	StatusCreated     = "created"
	StatusCommand     = "command"
	StatusParseFailed = "parse_failed"
	StatusLimited     = "limited"
	StatusError       = "error"
	StatusIgnored     = "ignored"
)

// Outcome describes what one inbound message did.
type Outcome struct {
	RequestID  string              `json:"request_id"`
	Status     string              `json:"status"`
	Reply      string              `json:"-"`
	TaskID     int64               `json:"task_id,omitempty"`
	Confidence reminder.Confidence `json:"confidence,omitempty"`
	Source     reminder.Source     `json:"source,omitempty"`
	FireAt     *time.Time          `json:"fire_at,omitempty"`
}

// Resolver is the part of reminder.Orchestrator the handler uses.
type Resolver interface {
	ResolveDetailed(ctx context.Context, message string, now time.Time) reminder.Resolution
}

// ResolutionObserver is told about every resolution attempt (metrics).
type ResolutionObserver interface {
	ObserveResolution(res reminder.Resolution, took time.Duration)
	ObserveMessage(channel, status string)
}

// Handler turns inbound chat messages into commands or stored reminders.
type Handler struct {
	resolver   Resolver
	store      storage.Store
	bus        eventbus.Bus
	loc        *time.Location
	maxPending atomic.Int64
	observer   ResolutionObserver
	log        logx.Logger
	now        func() time.Time
}

type HandlerDeps struct {
	Resolver Resolver
	Store    storage.Store
	Bus      eventbus.Bus
	Location *time.Location
	// MaxPending caps unsent tasks per owner; 0 disables the cap.
	MaxPending int
	Observer   ResolutionObserver
	Logger     logx.Logger
	Now        func() time.Time
}

func NewHandler(d HandlerDeps) *Handler {
	h := &Handler{
		resolver: d.Resolver,
		store:    d.Store,
		bus:      d.Bus,
		loc:      d.Location,
		observer: d.Observer,
		log:      d.Logger,
		now:      d.Now,
	}
	h.maxPending.Store(int64(d.MaxPending))
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.String("comp", "handler"))
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// SetMaxPending changes the per-owner cap; 0 disables it.
func (h *Handler) SetMaxPending(n int) { h.maxPending.Store(int64(n)) }

// Reply adapts Handle to transport.Handler.
func (h *Handler) Reply(ctx context.Context, msg transport.Message) string {
	return h.Handle(ctx, msg).Reply
}

// Handle answers one message. It never returns an empty reply for a
// non-empty message.
func (h *Handler) Handle(ctx context.Context, msg transport.Message) (out Outcome) {
	out.RequestID = uuid.NewString()
	log := h.log.With(
		logx.String("request_id", out.RequestID),
		logx.String("channel", msg.Channel),
		logx.String("owner", msg.OwnerID),
	)
	defer func() {
		if h.observer != nil {
			h.observer.ObserveMessage(msg.Channel, out.Status)
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if text == "" || strings.TrimSpace(msg.OwnerID) == "" {
		out.Status = StatusIgnored
		return out
	}

	if reply, ok := h.command(ctx, log, msg.OwnerID, text); ok {
		out.Status = StatusCommand
		out.Reply = reply
		return out
	}

	if limit := int(h.maxPending.Load()); limit > 0 {
		n, err := h.store.CountPending(ctx, msg.OwnerID)
		if err != nil {
			log.Error("count pending failed", logx.Err(err))
			out.Status, out.Reply = StatusError, reminder.GenericErrorText
			return out
		}
		if n >= limit {
			log.Info("pending cap reached", logx.Int("pending", n))
			out.Status, out.Reply = StatusLimited, fmt.Sprintf(reminder.TooManyPendingText, n)
			return out
		}
	}

	now := h.now().In(h.loc)
	start := time.Now()
	res := h.resolver.ResolveDetailed(ctx, text, now)
	if h.observer != nil {
		h.observer.ObserveResolution(res, time.Since(start))
	}
	if res.SemanticFailure != nil {
		log.Debug("semantic layer gave no result", logx.String("kind", res.SemanticFailure.Kind.String()), logx.Err(res.SemanticFailure))
	}
	if res.Reminder == nil {
		log.Info("message not understood")
		out.Status, out.Reply = StatusParseFailed, reminder.ParseFailureText
		return out
	}

	p := *res.Reminder
	task, err := h.store.Insert(ctx, msg.OwnerID, p.TaskDescription, p.FireAt)
	if err != nil {
		log.Error("task insert failed", logx.Err(err))
		out.Status, out.Reply = StatusError, reminder.GenericErrorText
		return out
	}
	if h.bus != nil {
		h.bus.Publish(eventbus.Event{Type: reminder.EventCreated, Data: task})
	}
	log.Info("reminder created",
		logx.Int64("task_id", task.ID),
		logx.Time("fire_at", p.FireAt),
		logx.String("confidence", string(p.Confidence)),
		logx.String("source", string(res.Source)),
	)

	p.FireAt = p.FireAt.In(h.loc)
	out.Status = StatusCreated
	out.Reply = reminder.FormatConfirmation(p)
	out.TaskID = task.ID
	out.Confidence = p.Confidence
	out.Source = res.Source
	out.FireAt = &p.FireAt
	return out
}

// command handles /start, /help and /list. WhatsApp users type them without
// the slash; Telegram may append @botname.
func (h *Handler) command(ctx context.Context, log logx.Logger, ownerID, text string) (string, bool) {
	word := strings.ToLower(strings.Fields(text)[0])
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if !strings.HasPrefix(text, "/") && len(strings.Fields(text)) > 1 {
		return "", false
	}
	switch word {
	case "start":
		return reminder.WelcomeText, true
	case "help":
		return reminder.FormatHelp(h.loc), true
	case "list":
		tasks, err := h.store.ForOwner(ctx, ownerID, false)
		if err != nil {
			log.Error("list tasks failed", logx.Err(err))
			return reminder.GenericErrorText, true
		}
		return reminder.FormatTaskList(tasks, h.loc), true
	}
	return "", false
}
