// Package whatsapp sends messages through the Twilio WhatsApp API and parses
// Twilio's inbound webhook form.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	Name           = "whatsapp"
	AddressPrefix  = "whatsapp:"
	DefaultBaseURL = "https://api.twilio.com/2010-04-01"
	DefaultFrom    = "whatsapp:+14155238886"
)

var ErrMissingField = errors.New("whatsapp: missing From or Body")

type Config struct {
	AccountSID string        `json:"account_sid"`
	AuthToken  string        `json:"auth_token"`
	From       string        `json:"from"`
	BaseURL    string        `json:"base_url"`
	Timeout    time.Duration `json:"timeout"`
}

// Adapter sends outbound messages. Inbound messages arrive through the HTTP
// webhook (see ParseInbound), so Start and Stop only toggle readiness.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	ready atomic.Bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("whatsapp: account_sid and auth_token are required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = DefaultFrom
	}
	cfg.From = NormalizeAddress(cfg.From)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "whatsapp")),
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Start(ctx context.Context, _ transport.Handler) error {
	_ = ctx
	a.ready.Store(true)
	a.log.Info("whatsapp sender ready", logx.String("from", a.cfg.From))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	a.ready.Store(false)
	return nil
}

// Ready reports whether Start has run and Stop has not.
func (a *Adapter) Ready() bool { return a.ready.Load() }

func (a *Adapter) SendText(ctx context.Context, ownerID, text string) error {
	_, err := a.Send(ctx, ownerID, text)
	return err
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send creates one Twilio message and returns its SID.
func (a *Adapter) Send(ctx context.Context, ownerID, text string) (string, error) {
	to := NormalizeAddress(ownerID)
	if to == AddressPrefix {
		return "", errors.New("whatsapp: empty recipient")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", a.cfg.From)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", a.cfg.BaseURL, url.PathEscape(a.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out messageResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode/100 != 2 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("twilio: HTTP %d (code=%d): %s", resp.StatusCode, out.Code, msg)
	}
	a.log.Debug("message queued", logx.String("to", to), logx.String("sid", out.SID))
	return out.SID, nil
}

// NormalizeAddress adds the "whatsapp:" prefix when missing.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, AddressPrefix) {
		return s
	}
	return AddressPrefix + s
}

// ParseInbound reads Twilio's webhook form fields From and Body.
func ParseInbound(form url.Values) (transport.Message, error) {
	from := strings.TrimSpace(form.Get("From"))
	body := strings.TrimSpace(form.Get("Body"))
	if from == "" || body == "" {
		return transport.Message{}, ErrMissingField
	}
	return transport.Message{
		Channel:  Name,
		OwnerID:  NormalizeAddress(from),
		Username: strings.TrimSpace(form.Get("ProfileName")),
		Text:     body,
	}, nil
}
