package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "remindbot/pkg/logx"
)

func TestResolveHighConfidenceSkipsCompletion(t *testing.T) {
	t.Parallel()
	svc := &fakeCompletion{reply: `{"task_description":"x","reminder_datetime":"2030-01-01 00:00:00"}`}
	o := NewOrchestrator(NewSemanticResolver(svc, testLoc), logx.Nop())

	now := at("2024-01-01T14:21:00")
	res := o.ResolveDetailed(context.Background(), "Remind me to buy milk in 30 seconds", now)
	require.NotNil(t, res.Reminder)
	assert.Equal(t, SourceSimple, res.Source)
	assert.True(t, res.Reminder.FireAt.Equal(at("2024-01-01T14:21:30")))
	assert.Zero(t, svc.calls())
}

func TestResolvePrefersSemanticOverKeywordDefault(t *testing.T) {
	t.Parallel()
	svc := &fakeCompletion{reply: `{"task_description":"call mom","reminder_datetime":"2024-01-02 18:00:00"}`}
	o := NewOrchestrator(NewSemanticResolver(svc, testLoc), logx.Nop())

	res := o.ResolveDetailed(context.Background(), "Remind me to call mom tomorrow at 6pm", at("2024-01-01T10:00:00"))
	require.NotNil(t, res.Reminder)
	assert.Equal(t, SourceSemantic, res.Source)
	assert.Equal(t, "call mom", res.Reminder.TaskDescription)
	assert.True(t, res.Reminder.FireAt.Equal(at("2024-01-02T18:00:00")))
	assert.Equal(t, 1, svc.calls())
}

func TestResolveFallsBackToKeywordDefault(t *testing.T) {
	t.Parallel()
	svc := &fakeCompletion{err: errors.New("network down")}
	o := NewOrchestrator(NewSemanticResolver(svc, testLoc), logx.Nop())

	res := o.ResolveDetailed(context.Background(), "Remind me to call mom tomorrow", at("2024-01-01T10:00:00"))
	require.NotNil(t, res.Reminder)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, ConfidenceMedium, res.Reminder.Confidence)
	assert.True(t, res.Reminder.FireAt.Equal(at("2024-01-02T09:00:00")))
	require.NotNil(t, res.SemanticFailure)
	assert.Equal(t, ExternalServiceFailure, res.SemanticFailure.Kind)
}

func TestResolveFallbackRollsPastKeywordForward(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(nil, logx.Nop())
	now := at("2024-01-01T22:00:00")
	got := o.Resolve(context.Background(), "remind me to take pills tonight", now)
	require.NotNil(t, got)
	assert.True(t, got.FireAt.Equal(at("2024-01-02T20:00:00")))
}

func TestResolveNoTriggerIsParseFailure(t *testing.T) {
	t.Parallel()
	svc := &fakeCompletion{reply: "I have no idea"}
	o := NewOrchestrator(NewSemanticResolver(svc, testLoc), logx.Nop())

	res := o.ResolveDetailed(context.Background(), "what's the weather like?", at("2024-01-01T10:00:00"))
	assert.Nil(t, res.Reminder)
	require.NotNil(t, res.Failure)
	assert.Equal(t, ParseFailure, res.Failure.Kind)
	assert.ErrorIs(t, res.Failure, ErrParseFailure)
	assert.Nil(t, o.Resolve(context.Background(), "what's the weather like?", at("2024-01-01T10:00:00")))
}

func TestResolveNegativeOffsetIsRejected(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(nil, logx.Nop())
	assert.Nil(t, o.Resolve(context.Background(), "remind me to x in -3 days", at("2024-01-01T10:00:00")))
}

func TestResolveNeverReturnsPastTimes(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(nil, logx.Nop())
	msgs := []string{
		"remind me to a in 0 seconds",
		"remind me to b tonight",
		"remind me to c today",
		"remind me to d tomorrow",
		"remind me to e",
		"remind me to f in 2 hours",
	}
	for h := 0; h < 24; h++ {
		now := time.Date(2024, 6, 10, h, 59, 59, 0, testLoc)
		for _, m := range msgs {
			got := o.Resolve(context.Background(), m, now)
			require.NotNil(t, got, m)
			assert.True(t, got.FireAt.After(now), "%s at %s -> %s", m, now, got.FireAt)
		}
	}
}
