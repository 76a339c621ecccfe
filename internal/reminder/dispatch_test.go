package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
)

type memStore struct {
	mu      sync.Mutex
	tasks   map[int64]*Task
	nextID  int64
	dueErr  error
	markErr error
	// dueHook runs inside Due after the snapshot is taken.
	dueHook func()
}

func newMemStore() *memStore { return &memStore{tasks: map[int64]*Task{}} }

func (s *memStore) Insert(_ context.Context, owner, desc string, fireAt time.Time) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &Task{ID: s.nextID, OwnerID: owner, TaskDescription: desc, FireAt: fireAt, CreatedAt: time.Now()}
	s.tasks[t.ID] = t
	return *t, nil
}

func (s *memStore) Due(_ context.Context, now time.Time) ([]Task, error) {
	s.mu.Lock()
	if s.dueErr != nil {
		s.mu.Unlock()
		return nil, s.dueErr
	}
	var out []Task
	for _, t := range s.tasks {
		if t.Due(now) {
			out = append(out, *t)
		}
	}
	hook := s.dueHook
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	t.IsSent = true
	sentAt := at
	t.SentAt = &sentAt
	return true, nil
}

func (s *memStore) ForOwner(_ context.Context, owner string, includeSent bool) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.OwnerID == owner && (includeSent || !t.IsSent) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) get(id int64) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

type sentMsg struct{ owner, body string }

type fakeChannel struct {
	mu    sync.Mutex
	sent  []sentMsg
	fail  map[string]bool
	panic map[string]bool
}

func (c *fakeChannel) Send(_ context.Context, owner, body string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panic[owner] {
		panic("adapter exploded")
	}
	if c.fail[owner] {
		return false
	}
	c.sent = append(c.sent, sentMsg{owner, body})
	return true
}

func (c *fakeChannel) messages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

func TestRunTickDeliversAndMarksSent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	ch := &fakeChannel{}
	task, err := store.Insert(ctx, "12345", "call mom", at("2024-01-02T09:00:00"))
	require.NoError(t, err)

	d := NewDispatcher(store, ch)
	now := at("2024-01-02T09:00:01")
	rep := d.RunTick(ctx, now)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Sent)
	assert.Zero(t, rep.Failed)

	got := store.get(task.ID)
	assert.True(t, got.IsSent)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(now))
	assert.Equal(t, []sentMsg{{"12345", "🔔 Reminder: call mom"}}, ch.messages())

	rep = d.RunTick(ctx, now.Add(time.Second))
	assert.Zero(t, rep.Due)
	assert.Len(t, ch.messages(), 1)
}

func TestRunTickSkipsFutureTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	ch := &fakeChannel{}
	_, _ = store.Insert(ctx, "a", "later", at("2024-01-02T09:00:00"))

	rep := NewDispatcher(store, ch).RunTick(ctx, at("2024-01-02T08:59:59"))
	assert.Zero(t, rep.Due)
	assert.Empty(t, ch.messages())
}

func TestRunTickFailedSendIsRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	ch := &fakeChannel{fail: map[string]bool{"a": true}}
	task, _ := store.Insert(ctx, "a", "water plants", at("2024-01-02T09:00:00"))
	d := NewDispatcher(store, ch)

	rep := d.RunTick(ctx, at("2024-01-02T09:00:01"))
	assert.Equal(t, 1, rep.Failed)
	assert.False(t, store.get(task.ID).IsSent)

	ch.mu.Lock()
	ch.fail = nil
	ch.mu.Unlock()

	rep = d.RunTick(ctx, at("2024-01-02T09:00:02"))
	assert.Equal(t, 1, rep.Sent)
	assert.True(t, store.get(task.ID).IsSent)
}

func TestRunTickIsolatesPanics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	ch := &fakeChannel{panic: map[string]bool{"bad": true}, fail: map[string]bool{"flaky": true}}
	bad, _ := store.Insert(ctx, "bad", "one", at("2024-01-02T08:00:00"))
	flaky, _ := store.Insert(ctx, "flaky", "two", at("2024-01-02T08:00:00"))
	good, _ := store.Insert(ctx, "good", "three", at("2024-01-02T08:00:00"))

	rep := NewDispatcher(store, ch).RunTick(ctx, at("2024-01-02T09:00:00"))
	assert.Equal(t, 3, rep.Due)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 2, rep.Failed)
	assert.False(t, store.get(bad.ID).IsSent)
	assert.False(t, store.get(flaky.ID).IsSent)
	assert.True(t, store.get(good.ID).IsSent)
}

func TestRunTickScanErrorReported(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.dueErr = errors.New("disk gone")
	rep := NewDispatcher(store, &fakeChannel{}).RunTick(context.Background(), time.Now())
	assert.ErrorContains(t, rep.ScanErr, "disk gone")
	assert.Zero(t, rep.Sent)
}

func TestRunTickMarkFailureCountsAsSent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	store.markErr = errors.New("locked")
	ch := &fakeChannel{}
	task, _ := store.Insert(ctx, "a", "x", at("2024-01-02T08:00:00"))

	rep := NewDispatcher(store, ch).RunTick(ctx, at("2024-01-02T09:00:00"))
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.MarkFailed)
	assert.False(t, store.get(task.ID).IsSent)
	assert.Len(t, ch.messages(), 1)
}

func TestRunTickSkipsWhenPreviousStillRunning(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	d := NewDispatcher(store, &fakeChannel{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.dueHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan TickReport, 1)
	go func() { done <- d.RunTick(context.Background(), time.Now()) }()
	<-entered

	rep := d.RunTick(context.Background(), time.Now())
	assert.True(t, rep.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
}

func TestRunTickPublishesEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	store := newMemStore()
	ch := &fakeChannel{fail: map[string]bool{"b": true}}
	_, _ = store.Insert(ctx, "a", "ok", at("2024-01-02T08:00:00"))
	_, _ = store.Insert(ctx, "b", "nope", at("2024-01-02T08:00:00"))

	rep := NewDispatcher(store, ch, WithEventBus(bus)).RunTick(ctx, at("2024-01-02T09:00:00"))
	require.Len(t, events, 3)

	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, (<-events).Type)
	}
	assert.ElementsMatch(t, []string{EventDelivered, EventDeliveryFailed, EventTick}, types)
	assert.Equal(t, EventTick, types[2])
	assert.Equal(t, 1, rep.Sent)
}
