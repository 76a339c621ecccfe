package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompletion struct {
	mu      sync.Mutex
	reply   string
	err     error
	panicV  any
	block   bool
	prompts []string
}

func (f *fakeCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	reply, err, p, block := f.reply, f.err, f.panicV, f.block
	f.mu.Unlock()
	if p != nil {
		panic(p)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

func (f *fakeCompletion) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func TestResolveSemanticDecodesFencedJSON(t *testing.T) {
	t.Parallel()
	now := at("2024-01-03T10:00:00") // Wednesday
	svc := &fakeCompletion{reply: "```json\n{\"task_description\": \"buy petrol\", \"reminder_datetime\": \"2024-01-05 09:00:00\", \"confidence\": \"high\"}\n```"}
	r := NewSemanticResolver(svc, testLoc)

	got := r.ResolveSemantic(context.Background(), "Remind me to buy petrol before Friday morning", now)
	require.NotNil(t, got)
	assert.Equal(t, "buy petrol", got.TaskDescription)
	assert.True(t, got.FireAt.Equal(at("2024-01-05T09:00:00")))
	assert.Equal(t, testLoc, got.FireAt.Location())
	assert.Equal(t, ConfidenceMedium, got.Confidence, "model cannot claim high confidence")

	require.Equal(t, 1, svc.calls())
	assert.Contains(t, svc.prompts[0], "Wednesday, January 03, 2024 at 10:00:00 AM")
	assert.Contains(t, svc.prompts[0], `"Remind me to buy petrol before Friday morning"`)
}

func TestResolveSemanticKeepsExplicitZone(t *testing.T) {
	t.Parallel()
	now := at("2024-01-03T10:00:00")
	svc := &fakeCompletion{reply: `{"task_description":"standup","reminder_datetime":"2024-01-04T09:00:00Z","confidence":"low"}`}
	got := NewSemanticResolver(svc, testLoc).ResolveSemantic(context.Background(), "standup thursday", now)
	require.NotNil(t, got)
	assert.True(t, got.FireAt.Equal(time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, ConfidenceLow, got.Confidence)
}

func TestResolveSemanticPastTimeMovesOneDay(t *testing.T) {
	t.Parallel()
	now := at("2024-01-03T10:00:00")
	svc := &fakeCompletion{reply: `{"task_description":"coffee","reminder_datetime":"2024-01-03 08:30:00"}`}
	got := NewSemanticResolver(svc, testLoc).ResolveSemantic(context.Background(), "coffee at 8:30", now)
	require.NotNil(t, got)
	assert.True(t, got.FireAt.Equal(at("2024-01-04T08:30:00")))

	svc.reply = `{"task_description":"coffee","reminder_datetime":"2024-01-03 10:00:00"}`
	got = NewSemanticResolver(svc, testLoc).ResolveSemantic(context.Background(), "coffee now", now)
	require.NotNil(t, got)
	assert.True(t, got.FireAt.Equal(at("2024-01-04T10:00:00")), "equal to now counts as past")
}

func TestResolveSemanticFailuresBecomeNil(t *testing.T) {
	t.Parallel()
	now := at("2024-01-03T10:00:00")
	tests := []struct {
		name string
		svc  *fakeCompletion
		kind FailureKind
	}{
		{"service error", &fakeCompletion{err: errors.New("quota exceeded")}, ExternalServiceFailure},
		{"panic", &fakeCompletion{panicV: "boom"}, ExternalServiceFailure},
		{"not json", &fakeCompletion{reply: "Sure! I'll remind you."}, ValidationFailure},
		{"trailing text", &fakeCompletion{reply: `{"task_description":"a","reminder_datetime":"2024-01-04 09:00:00"} thanks`}, ValidationFailure},
		{"missing task", &fakeCompletion{reply: `{"reminder_datetime":"2024-01-04 09:00:00"}`}, ValidationFailure},
		{"empty datetime", &fakeCompletion{reply: `{"task_description":"a","reminder_datetime":"  "}`}, ValidationFailure},
		{"array", &fakeCompletion{reply: `[{"task_description":"a"}]`}, ValidationFailure},
		{"bad datetime", &fakeCompletion{reply: `{"task_description":"a","reminder_datetime":"whenever"}`}, ValidationFailure},
		{"far past", &fakeCompletion{reply: `{"task_description":"a","reminder_datetime":"2023-12-01 09:00:00"}`}, ValidationFailure},
		{"empty reply", &fakeCompletion{reply: "```\n```"}, ValidationFailure},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewSemanticResolver(tt.svc, testLoc)
			assert.Nil(t, r.ResolveSemantic(context.Background(), "remind me to a", now))
			_, f := r.resolve(context.Background(), "remind me to a", now)
			require.NotNil(t, f)
			assert.Equal(t, tt.kind, f.Kind)
		})
	}
}

func TestResolveSemanticTimeout(t *testing.T) {
	t.Parallel()
	svc := &fakeCompletion{block: true}
	r := NewSemanticResolver(svc, testLoc, WithCompletionTimeout(20*time.Millisecond))
	start := time.Now()
	assert.Nil(t, r.ResolveSemantic(context.Background(), "remind me to x", at("2024-01-03T10:00:00")))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		`{"a":1}`:                  `{"a":1}`,
		"```json\n{\"a\":1}\n```":  `{"a":1}`,
		"```\n{\"a\":1}\n```":      `{"a":1}`,
		"```json {\"a\":1}```":     `{"a":1}`,
		"  ```{\"a\":1}```  ":      `{"a":1}`,
		"```JSON\n{\"a\":1}\n```\n": `{"a":1}`,
	}
	for in, want := range tests {
		assert.Equal(t, want, stripCodeFence(in), strings.ReplaceAll(in, "\n", `\n`))
	}
}

func TestNilSemanticResolverIsSafe(t *testing.T) {
	t.Parallel()
	var r *SemanticResolver
	assert.Nil(t, r.ResolveSemantic(context.Background(), "remind me to x", time.Now()))
}
