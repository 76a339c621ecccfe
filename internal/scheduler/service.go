package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

var (
	ErrDuplicate   = errors.New("scheduler: duplicate job name")
	ErrBadInterval = errors.New("scheduler: interval must be positive")
	ErrUnknownJob  = errors.New("scheduler: unknown job")
)

type JobFunc func(ctx context.Context) error

type jobDef struct {
	name     string
	every    time.Duration
	timeout  time.Duration
	fn       JobFunc
	entryID  cron.EntryID
	runs     atomic.Uint64
	skips    atomic.Uint64
	failures atomic.Uint64
	running  atomic.Bool
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name     string        `json:"name"`
	Every    time.Duration `json:"every"`
	Next     time.Time     `json:"next_run,omitempty"`
	Prev     time.Time     `json:"prev_run,omitempty"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Skips    uint64        `json:"skips"`
	Failures uint64        `json:"failures"`
}

type Snapshot struct {
	Running bool      `json:"running"`
	Jobs    []JobInfo `json:"jobs"`
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	loc  *time.Location
	c    *cron.Cron
	jobs map[string]*jobDef

	ctx    context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:  log.With(logx.String("comp", "scheduler")),
		loc:  loc,
		jobs: map[string]*jobDef{},
	}
}

// AddInterval registers fn to run every interval. A timeout <= 0 bounds a
// run by the interval itself.
func (s *Service) AddInterval(name string, every, timeout time.Duration, fn JobFunc) error {
	if every <= 0 {
		return ErrBadInterval
	}
	if fn == nil {
		return errors.New("scheduler: nil job")
	}
	if timeout <= 0 {
		timeout = every
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	d := &jobDef{name: name, every: every, timeout: timeout, fn: fn}
	s.jobs[name] = d
	if s.c != nil {
		return s.scheduleLocked(d)
	}
	return nil
}

// SetInterval changes a job's interval, rescheduling it if running.
func (s *Service) SetInterval(name string, every time.Duration) error {
	if every <= 0 {
		return ErrBadInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if d.every == every {
		return nil
	}
	d.every = every
	if d.timeout > every {
		d.timeout = every
	}
	if s.c == nil {
		return nil
	}
	s.c.Remove(d.entryID)
	d.entryID = 0
	s.log.Info("job rescheduled", logx.String("job", name), logx.Duration("every", every))
	return s.scheduleLocked(d)
}

func (s *Service) scheduleLocked(d *jobDef) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log, job: d})).Then(cron.FuncJob(func() {
		s.run(d)
	}))
	id, err := s.c.AddJob(fmt.Sprintf("@every %s", d.every), job)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", d.name, err)
	}
	d.entryID = id
	return nil
}

func (s *Service) run(d *jobDef) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	d.running.Store(true)
	defer d.running.Store(false)
	d.runs.Add(1)

	ctx, cancel := context.WithTimeout(base, d.timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			s.log.Error("job panicked", logx.String("job", d.name), logx.Any("panic", r))
		}
	}()
	if err := d.fn(ctx); err != nil {
		d.failures.Add(1)
		s.log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Trace("job done", logx.String("job", d.name), logx.Duration("took", time.Since(start)))
}

// RunNow runs a job synchronously outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	d, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.run(d)
	return nil
}

// Start begins triggering registered jobs. Jobs run under ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithLocation(s.loc))
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.scheduleLocked(s.jobs[name]); err != nil {
			s.c = nil
			s.cancel()
			return err
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops triggering, cancels running jobs and waits for them or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	start := time.Now()
	stopped := c.Stop()
	if cancel != nil {
		cancel()
	}
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Running: s.c != nil}
	for _, d := range s.jobs {
		it := JobInfo{
			Name:     d.name,
			Every:    d.every,
			Running:  d.running.Load(),
			Runs:     d.runs.Load(),
			Skips:    d.skips.Load(),
			Failures: d.failures.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Name < snap.Jobs[j].Name })
	return snap
}

// cronLogger adapts logx to cron.Logger and counts skipped triggers.
type cronLogger struct {
	log logx.Logger
	job *jobDef
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" && l.job != nil {
		l.job.skips.Add(1)
		l.log.Warn("trigger skipped; previous run still going", logx.String("job", l.job.name))
		return
	}
	l.log.Debug(msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
