package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const Name = "telegram"

type Config struct {
	Token       string        `json:"token"`
	PollTimeout time.Duration `json:"poll_timeout"`
	// MaxInflight bounds concurrently handled updates; extra updates are dropped.
	MaxInflight int `json:"max_inflight"`
}

// Adapter is a long-poll Telegram bot. Owner ids are decimal chat ids.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	handler atomic.Pointer[transport.Handler]
	slots   chan struct{}

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Int64

	menuMu   sync.Mutex
	menuHash uint64
	http     *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	inflight := cfg.MaxInflight
	if inflight <= 0 {
		inflight = 32
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "telegram")),
		bot:   b,
		slots: make(chan struct{}, inflight),
		http:  &http.Client{Timeout: 8 * time.Second},
	}
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := transport.Message{
		Channel: Name,
		OwnerID: strconv.FormatInt(m.Chat.ID, 10),
		Text:    m.Text,
	}
	if m.Sender != nil {
		msg.Username = m.Sender.Username
	}
	a.dispatch(msg)
	return nil
}

// dispatch runs the handler without blocking the poll loop.
func (a *Adapter) dispatch(msg transport.Message) {
	hp := a.handler.Load()
	sup := a.Supervisor()
	if hp == nil || sup == nil {
		return
	}
	select {
	case a.slots <- struct{}{}:
	default:
		a.dropped.Add(1)
		return
	}
	h := *hp
	sup.Go0("telegram.handle", func(ctx context.Context) {
		defer func() { <-a.slots }()
		reply := h(ctx, msg)
		if reply == "" {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := a.SendText(sctx, msg.OwnerID, reply); err != nil {
			a.log.Warn("reply failed", logx.String("owner", msg.OwnerID), logx.Err(err))
		}
	})
}

func (a *Adapter) Start(ctx context.Context, h transport.Handler) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if h == nil {
		return errors.New("telegram: nil handler")
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.handler.Store(&h)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	sup := a.sup
	a.runMu.Unlock()

	// Dropped updates are summarized instead of logged one by one.
	sup.Go0("telegram.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped()
				return
			case <-ticker.C:
				a.reportDropped()
			}
		}
	})

	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; an early return is restarted.
	sup.GoRestart("telegram.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithRestartOnReturn(true),
	)
	return nil
}

func (a *Adapter) reportDropped() {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (handlers busy)", logx.Int64("count", n), logx.Int("max_inflight", cap(a.slots)))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.handler.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SendText sends text to a chat id, split into Telegram-sized chunks.
func (a *Adapter) SendText(ctx context.Context, ownerID, text string) error {
	chatID, err := ParseOwnerID(ownerID)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// ParseOwnerID converts an owner id back to a Telegram chat id.
func ParseOwnerID(ownerID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(ownerID), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("telegram: invalid chat id %q", ownerID)
	}
	return id, nil
}

const textLimit = 4000

// splitText splits long messages into chunks, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// UpdateMenuCommands sets the bot's command menu (setMyCommands). It only
// calls Telegram when the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []cmd `json:"commands"`
	}{}
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		payload.Commands = append(payload.Commands, cmd{Command: c.Command, Description: d})
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := "https://api.telegram.org/bot" + strings.TrimSpace(a.cfg.Token) + "/setMyCommands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || !out.OK {
		return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}
