package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// fileStore keeps every task in memory and persists mutations.
//
// Files:
//   - <prefix>.tasks.snapshot.json (periodic snapshot)
//   - <prefix>.tasks.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	tasks  map[int64]*reminder.Task
	nextID int64

	writes       int
	compactEvery int
}

type fileSnapshot struct {
	NextID int64           `json:"next_id"`
	Tasks  []reminder.Task `json:"tasks"`
}

const (
	opInsert = "insert"
	opSent   = "sent"
)

type journalRecord struct {
	Op   string         `json:"op"`
	Task *reminder.Task `json:"task,omitempty"`
	ID   int64          `json:"id,omitempty"`
	At   *time.Time     `json:"at,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".tasks.snapshot.json",
		tasks:        map[int64]*reminder.Task{},
		compactEvery: 500,
	}
	journalPath := prefix + ".tasks.journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	log.Info("file store opened", logx.String("prefix", prefix), logx.Int("tasks", len(s.tasks)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Ping(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) Insert(ctx context.Context, ownerID, description string, fireAt time.Time) (reminder.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Task{}, ErrClosed
	}
	t := reminder.Task{
		ID:              s.nextID + 1,
		OwnerID:         ownerID,
		TaskDescription: description,
		FireAt:          fireAt,
		CreatedAt:       time.Now(),
	}
	if err := s.appendLocked(journalRecord{Op: opInsert, Task: &t}); err != nil {
		return reminder.Task{}, err
	}
	s.nextID = t.ID
	cp := t
	s.tasks[t.ID] = &cp
	s.maybeCompactLocked()
	return t, nil
}

func (s *fileStore) Due(ctx context.Context, now time.Time) ([]reminder.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	var out []reminder.Task
	for _, t := range s.tasks {
		if t.Due(now) {
			out = append(out, cloneTask(t))
		}
	}
	sortByFireAt(out)
	return out, nil
}

func (s *fileStore) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	if t.IsSent {
		return true, nil
	}
	if err := s.appendLocked(journalRecord{Op: opSent, ID: id, At: &at}); err != nil {
		return false, err
	}
	applySent(t, at)
	s.maybeCompactLocked()
	return true, nil
}

func (s *fileStore) ForOwner(ctx context.Context, ownerID string, includeSent bool) ([]reminder.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	var out []reminder.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && (includeSent || !t.IsSent) {
			out = append(out, cloneTask(t))
		}
	}
	sortByFireAt(out)
	return out, nil
}

func (s *fileStore) CountPending(ctx context.Context, ownerID string) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	n := 0
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && !t.IsSent {
			n++
		}
	}
	return n, nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompactLocked must run after the journaled mutation is applied in
// memory, or the snapshot misses it once the journal is truncated.
func (s *fileStore) maybeCompactLocked() {
	if s.compactEvery <= 0 || s.writes%s.compactEvery != 0 {
		return
	}
	// Best-effort compact.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("task journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{NextID: s.nextID, Tasks: make([]reminder.Task, 0, len(s.tasks))}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, *t)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for i := range snap.Tasks {
		t := snap.Tasks[i]
		s.tasks[t.ID] = &t
		if t.ID > s.nextID {
			s.nextID = t.ID
		}
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return nil
}

// replayJournal applies records written after the last snapshot. A torn
// final line from a crash is skipped.
func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Warn("skipping unreadable journal line", logx.Err(err))
			continue
		}
		switch r.Op {
		case opInsert:
			if r.Task == nil || r.Task.ID == 0 {
				continue
			}
			t := *r.Task
			s.tasks[t.ID] = &t
			if t.ID > s.nextID {
				s.nextID = t.ID
			}
		case opSent:
			if t, ok := s.tasks[r.ID]; ok && !t.IsSent && r.At != nil {
				applySent(t, *r.At)
			}
		}
	}
	return sc.Err()
}

func applySent(t *reminder.Task, at time.Time) {
	t.IsSent = true
	sentAt := at
	t.SentAt = &sentAt
}

func cloneTask(t *reminder.Task) reminder.Task {
	out := *t
	if t.SentAt != nil {
		at := *t.SentAt
		out.SentAt = &at
	}
	return out
}

func sortByFireAt(ts []reminder.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].FireAt.Equal(ts[j].FireAt) {
			return ts[i].FireAt.Before(ts[j].FireAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
