package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultPollInterval = 60 * time.Second

type SessionOptions struct {
	PollInterval time.Duration
	Scheduler    Scheduler
	Logger       *zap.SugaredLogger
}

// Session drives reconciliation for the engine's active credential: once on
// Start, whenever the host comes back to the foreground or regains focus, and
// on a poll interval while it stays in the foreground. At most one poll timer
// exists at any time.
type Session struct {
	engine   *Engine
	sched    Scheduler
	interval time.Duration
	log      *zap.SugaredLogger

	mu         sync.Mutex
	running    bool
	foreground bool
	poll       Handle
	pollGen    uint64
	ctx        context.Context
	cancel     context.CancelFunc
	// runs tracks the reads of the current run only; each Start gets a fresh
	// group so a restart never adds to one that Stop is still waiting on.
	runs *sync.WaitGroup
}

func NewSession(engine *Engine, opts SessionOptions) *Session {
	s := &Session{
		engine:   engine,
		sched:    opts.Scheduler,
		interval: opts.PollInterval,
		log:      opts.Logger,
	}
	if s.sched == nil {
		s.sched = TimerScheduler{}
	}
	if s.interval <= 0 {
		s.interval = DefaultPollInterval
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	return s
}

// Start adopts the local cache synchronously, then reads the remote in the
// background and arms polling. Calling Start on a running session does
// nothing.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.foreground = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.runs = &sync.WaitGroup{}
	s.mu.Unlock()

	if s.engine.LoadCached(ctx) {
		s.log.Debugw("adopted cached data")
	}
	s.refresh("start")

	s.mu.Lock()
	s.armLocked()
	s.mu.Unlock()
}

// Stop cancels polling and in-flight reads and waits for them to return.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.disarmLocked()
	s.cancel()
	runs := s.runs
	s.mu.Unlock()

	runs.Wait()
}

// SetForeground suspends polling when the host goes to the background and
// resumes it, with an immediate check, when it returns.
func (s *Session) SetForeground(foreground bool) {
	s.mu.Lock()
	s.foreground = foreground
	if !s.running {
		s.mu.Unlock()
		return
	}
	if !foreground {
		s.disarmLocked()
		s.mu.Unlock()
		return
	}
	s.armLocked()
	s.mu.Unlock()

	s.refresh("foreground")
}

// Focus triggers an immediate check, for example when the window regains
// focus.
func (s *Session) Focus() {
	s.SetForeground(true)
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) Foreground() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foreground
}

func (s *Session) refresh(trigger string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx, runs := s.ctx, s.runs
	runs.Add(1)
	s.mu.Unlock()

	go func() {
		defer runs.Done()
		outcome := s.engine.Refresh(ctx)
		s.log.Debugw("reconciled", "trigger", trigger, "outcome", outcome)
	}()
}

func (s *Session) armLocked() {
	if !s.running || !s.foreground || s.poll != nil {
		return
	}
	gen := s.pollGen
	s.poll = s.sched.Schedule(s.interval, func() {
		s.tick(gen)
	})
}

func (s *Session) disarmLocked() {
	if s.poll != nil {
		s.poll.Cancel()
		s.poll = nil
	}
	s.pollGen++
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.pollGen || s.poll == nil {
		s.mu.Unlock()
		return
	}
	s.poll = nil
	s.mu.Unlock()

	s.refresh("poll")

	s.mu.Lock()
	s.armLocked()
	s.mu.Unlock()
}

func (s *Session) pollArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poll != nil
}

func (s *Session) waitIdle() {
	s.mu.Lock()
	runs := s.runs
	s.mu.Unlock()
	if runs != nil {
		runs.Wait()
	}
}
