package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = time.FixedZone("IST", 5*3600+1800)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, testLoc)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolveSimpleRelativeOffsets(t *testing.T) {
	t.Parallel()
	now := at("2024-01-01T14:21:00").Add(123 * time.Millisecond)
	tests := []struct {
		msg  string
		task string
		want time.Duration
	}{
		{"Remind me to buy milk in 30 seconds", "buy milk", 30 * time.Second},
		{"remind me to stretch in 1 second", "stretch", time.Second},
		{"Remind me to check the oven within 2 minutes", "check the oven", 2 * time.Minute},
		{"remind me to call back after 3 hours", "call back", 3 * time.Hour},
		{"REMIND ME TO pay rent in 5 days", "pay rent", 5 * 24 * time.Hour},
		{"remind me to ping in 10 minutes and again in 20 minutes", "ping", 10 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()
			got := ResolveSimple(tt.msg, now)
			require.NotNil(t, got)
			assert.Equal(t, ConfidenceHigh, got.Confidence)
			assert.Equal(t, tt.task, got.TaskDescription)
			assert.Equal(t, tt.want, got.FireAt.Sub(now))
		})
	}
}

func TestResolveSimpleBuyMilkScenario(t *testing.T) {
	t.Parallel()
	got := ResolveSimple("Remind me to buy milk in 30 seconds", at("2024-01-01T14:21:00"))
	require.NotNil(t, got)
	assert.Equal(t, "buy milk", got.TaskDescription)
	assert.True(t, got.FireAt.Equal(at("2024-01-01T14:21:30")))
	assert.Equal(t, ConfidenceHigh, got.Confidence)
}

func TestResolveSimpleKeywordDefaults(t *testing.T) {
	t.Parallel()
	now := at("2024-01-01T10:00:42").Add(500 * time.Millisecond)
	tests := []struct {
		name string
		msg  string
		want time.Time
	}{
		{"tomorrow", "Remind me to call mom tomorrow", at("2024-01-02T09:00:00")},
		{"tonight", "remind me to water plants tonight", at("2024-01-01T20:00:00")},
		{"today", "remind me to file taxes today", at("2024-01-01T18:00:00")},
		{"tomorrow wins over tonight", "remind me to pack tonight or tomorrow", at("2024-01-02T09:00:00")},
		{"no keyword", "remind me to read a book", at("2024-01-02T09:00:00")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveSimple(tt.msg, now)
			require.NotNil(t, got)
			assert.Equal(t, ConfidenceMedium, got.Confidence)
			assert.True(t, got.FireAt.Equal(tt.want), "fire_at = %s, want %s", got.FireAt, tt.want)
			assert.Zero(t, got.FireAt.Second())
			assert.Zero(t, got.FireAt.Nanosecond())
		})
	}
}

func TestResolveSimpleCallMomScenario(t *testing.T) {
	t.Parallel()
	got := ResolveSimple("Remind me to call mom tomorrow", at("2024-01-01T10:00:00"))
	require.NotNil(t, got)
	assert.Equal(t, "call mom tomorrow", got.TaskDescription)
	assert.True(t, got.FireAt.Equal(at("2024-01-02T09:00:00")))
	assert.Equal(t, ConfidenceMedium, got.Confidence)
}

func TestResolveSimpleTonightDoesNotRollOver(t *testing.T) {
	t.Parallel()
	now := at("2024-01-01T21:30:00")
	got := ResolveSimple("remind me to lock the door tonight", now)
	require.NotNil(t, got)
	assert.True(t, got.FireAt.Equal(at("2024-01-01T20:00:00")))

	require.True(t, EnsureFuture(got, now))
	assert.True(t, got.FireAt.Equal(at("2024-01-02T20:00:00")))
}

func TestResolveSimpleZeroAndNegativeOffsets(t *testing.T) {
	t.Parallel()
	now := at("2024-01-01T12:00:00")

	zero := ResolveSimple("remind me to breathe in 0 seconds", now)
	require.NotNil(t, zero)
	assert.Equal(t, ConfidenceHigh, zero.Confidence)
	assert.True(t, zero.FireAt.Equal(now))

	neg := ResolveSimple("remind me to time travel in -2 days", now)
	require.NotNil(t, neg)
	assert.True(t, neg.FireAt.Equal(now.Add(-48*time.Hour)))
	assert.False(t, EnsureFuture(neg, now))
}

func TestResolveSimpleNoTrigger(t *testing.T) {
	t.Parallel()
	now := at("2024-01-01T12:00:00")
	for _, msg := range []string{"", "buy milk in 30 seconds", "hello there", "remind me to   "} {
		assert.Nil(t, ResolveSimple(msg, now), msg)
	}
}

func TestResolveSimpleMarkerNeedsWordBoundary(t *testing.T) {
	t.Parallel()
	now := at("2024-01-01T12:00:00")
	got := ResolveSimple("remind me to train 5 days a week", now)
	require.NotNil(t, got)
	assert.Equal(t, ConfidenceMedium, got.Confidence)
}

func TestResolveSimpleIsPure(t *testing.T) {
	t.Parallel()
	now := at("2024-03-05T08:15:00")
	a := ResolveSimple("remind me to stand up today", now)
	b := ResolveSimple("remind me to stand up today", now)
	assert.Equal(t, a, b)
}
