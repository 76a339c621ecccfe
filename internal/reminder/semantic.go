package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	logx "remindbot/pkg/logx"
)

const promptTimeLayout = "Monday, January 02, 2006 at 03:04:05 PM MST"

const promptTemplate = `You extract reminder requests from chat messages.

Current date and time: %s

User message: %q

Work out:
1. task_description: what the user wants to be reminded about, without the time phrase.
2. reminder_datetime: the absolute local date and time to send the reminder.

Rules:
- "in/within/after N seconds|minutes|hours|days" means the current time plus that amount.
- "tomorrow" without a time means tomorrow at 09:00.
- "tonight" means today at 20:00.
- A weekday or date without a time means 09:00 on that day.
- "before <day/part of day>" means the start of that period; do not subtract extra lead time.
- Always calculate from the current date and time above.

Reply with ONLY this JSON object and nothing else:
{"task_description": "...", "reminder_datetime": "YYYY-MM-DD HH:MM:SS", "confidence": "high|medium|low"}`

// completionRecord is the strict shape of a completion answer.
type completionRecord struct {
	TaskDescription  string `json:"task_description"`
	ReminderDatetime string `json:"reminder_datetime"`
	Confidence       string `json:"confidence"`
}

// SemanticResolver delegates ambiguous phrasing to a CompletionService and
// validates what comes back. It never returns an error or panics to its caller.
type SemanticResolver struct {
	svc     CompletionService
	loc     *time.Location
	timeout time.Duration
	log     logx.Logger
}

type SemanticOption func(*SemanticResolver)

// WithCompletionTimeout bounds every completion call. Zero disables the bound.
func WithCompletionTimeout(d time.Duration) SemanticOption {
	return func(r *SemanticResolver) { r.timeout = d }
}

func WithSemanticLogger(log logx.Logger) SemanticOption {
	return func(r *SemanticResolver) { r.log = log }
}

func NewSemanticResolver(svc CompletionService, loc *time.Location, opts ...SemanticOption) *SemanticResolver {
	if loc == nil {
		loc = time.UTC
	}
	r := &SemanticResolver{svc: svc, loc: loc, timeout: 20 * time.Second}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// ResolveSemantic returns nil on any failure.
func (r *SemanticResolver) ResolveSemantic(ctx context.Context, message string, now time.Time) *ParsedReminder {
	p, f := r.resolve(ctx, message, now)
	if f != nil {
		return nil
	}
	return p
}

func (r *SemanticResolver) resolve(ctx context.Context, message string, now time.Time) (p *ParsedReminder, fail *Failure) {
	if r == nil || r.svc == nil {
		return nil, failf(ExternalServiceFailure, "completion service not configured")
	}
	defer func() {
		if rec := recover(); rec != nil {
			p = nil
			fail = failf(ExternalServiceFailure, "completion panicked: %v", rec)
		}
		if fail != nil {
			r.log.Debug("semantic resolution failed", logx.String("kind", fail.Kind.String()), logx.Err(fail.Err))
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	local := now.In(r.loc)
	raw, err := r.svc.Complete(ctx, BuildPrompt(message, local))
	if err != nil {
		return nil, &Failure{Kind: ExternalServiceFailure, Err: err}
	}

	rec, err := decodeCompletion(raw)
	if err != nil {
		return nil, &Failure{Kind: ValidationFailure, Err: err}
	}

	fireAt, err := dateparse.ParseIn(rec.ReminderDatetime, r.loc)
	if err != nil {
		return nil, failf(ValidationFailure, "reminder_datetime %q: %w", rec.ReminderDatetime, err)
	}

	out := &ParsedReminder{
		TaskDescription: rec.TaskDescription,
		FireAt:          fireAt.In(r.loc),
		Confidence:      semanticConfidence(rec.Confidence),
	}
	if !EnsureFuture(out, now) {
		return nil, failf(ValidationFailure, "reminder_datetime %s is more than a day in the past", out.FireAt.Format(time.RFC3339))
	}
	return out, nil
}

// BuildPrompt renders the extraction instruction for message at now.
func BuildPrompt(message string, now time.Time) string {
	return fmt.Sprintf(promptTemplate, now.Format(promptTimeLayout), message)
}

// semanticConfidence never lets the model claim high confidence; only a
// deterministic offset match earns that.
func semanticConfidence(label string) Confidence {
	if ParseConfidence(strings.ToLower(strings.TrimSpace(label))) == ConfidenceLow {
		return ConfidenceLow
	}
	return ConfidenceMedium
}

// decodeCompletion strips code fences and decodes exactly one JSON object
// with both required fields present and non-empty.
func decodeCompletion(raw string) (completionRecord, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return completionRecord{}, errors.New("empty completion")
	}

	var rec completionRecord
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&rec); err != nil {
		return completionRecord{}, fmt.Errorf("decode completion: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return completionRecord{}, errors.New("decode completion: trailing data")
	}

	rec.TaskDescription = strings.TrimSpace(rec.TaskDescription)
	rec.ReminderDatetime = strings.TrimSpace(rec.ReminderDatetime)
	if rec.TaskDescription == "" {
		return completionRecord{}, errors.New("task_description missing")
	}
	if rec.ReminderDatetime == "" {
		return completionRecord{}, errors.New("reminder_datetime missing")
	}
	return rec, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an info string such as "json" on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if head := strings.TrimSpace(s[:i]); head == "" || !strings.ContainsAny(head, "{[") {
			s = s[i+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
