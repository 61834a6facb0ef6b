// Package engine owns the live NoteGrid document. Mutations apply locally,
// persist synchronously to the local cache and reach the remote store through
// a trailing-edge debounced write. Session keeps the document reconciled with
// the remote copy using last-write-wins on UserData.UpdatedAt.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Joseda-hg/notegrid/internal/model"
)

const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultWriteTimeout = 15 * time.Second
)

// LocalStore persists the document on this device.
type LocalStore interface {
	Load(ctx context.Context) *model.UserData
	Save(ctx context.Context, data model.UserData) error
}

// RemoteStore is the remote copy of the document.
type RemoteStore interface {
	Read(ctx context.Context, credential string) (*model.UserData, error)
	Write(ctx context.Context, credential string, data model.UserData) error
}

type Options struct {
	Local        LocalStore
	Remote       RemoteStore
	Scheduler    Scheduler
	Debounce     time.Duration
	WriteTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
	Logger       *zap.SugaredLogger
	Metrics      *Metrics
}

type Engine struct {
	local        LocalStore
	remote       RemoteStore
	sched        Scheduler
	debounce     time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	newID        func() string
	log          *zap.SugaredLogger
	metrics      *Metrics

	mu         sync.Mutex
	current    *model.UserData
	credential string
	// ctx is cancelled when the credential is deactivated, aborting in-flight
	// remote calls made on its behalf.
	ctx     context.Context
	cancel  context.CancelFunc
	pending Handle
	gen     uint64

	subsMu  sync.Mutex
	subs    map[int]chan SyncEvent
	nextSub int
}

func New(opts Options) *Engine {
	e := &Engine{
		local:        opts.Local,
		remote:       opts.Remote,
		sched:        opts.Scheduler,
		debounce:     opts.Debounce,
		writeTimeout: opts.WriteTimeout,
		now:          opts.Now,
		newID:        opts.NewID,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		subs:         make(map[int]chan SyncEvent),
	}
	if e.sched == nil {
		e.sched = TimerScheduler{}
	}
	if e.debounce <= 0 {
		e.debounce = DefaultDebounce
	}
	if e.writeTimeout <= 0 {
		e.writeTimeout = DefaultWriteTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Activate makes credential the active one. Switching to a different
// credential discards the current document and any pending write.
func (e *Engine) Activate(credential string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if credential == e.credential {
		return
	}
	e.resetLocked()
	e.credential = credential
}

// Deactivate discards the document, the credential and any pending write.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.cancelPendingLocked()
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.current = nil
	e.credential = ""
}

func (e *Engine) Credential() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credential
}

// Ready reports whether a credential is active and a document is loaded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyLocked()
}

func (e *Engine) readyLocked() bool {
	return e.credential != "" && e.current != nil
}

// Snapshot returns a deep copy of the current document.
func (e *Engine) Snapshot() (model.UserData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return model.UserData{}, false
	}
	return e.current.Clone(), true
}

// LoadCached adopts the local cache as the current document if none is loaded
// yet. It reports whether a document is loaded afterwards.
func (e *Engine) LoadCached(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.credential == "" {
		return false
	}
	if e.current != nil {
		return true
	}
	cached := e.local.Load(ctx)
	if cached == nil {
		return false
	}
	e.current = cached
	e.publish(SyncEvent{Kind: EventLocalChange, UpdatedAt: cached.UpdatedAt})
	return true
}

// HasPendingWrite reports whether a debounced remote write is scheduled.
func (e *Engine) HasPendingWrite() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// Flush performs the pending remote write now, if there is one.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.pending == nil || !e.readyLocked() {
		e.mu.Unlock()
		return nil
	}
	e.cancelPendingLocked()
	credential, snapshot := e.credential, e.current.Clone()
	e.mu.Unlock()

	return e.write(ctx, credential, snapshot)
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

// mutate runs fn against the current document and, if fn reports a change,
// stamps, persists and schedules the remote write. Without an active
// credential and document it does nothing.
func (e *Engine) mutate(op string, fn func(data *model.UserData, now int64) bool) bool {
	e.mu.Lock()
	if !e.readyLocked() {
		e.mu.Unlock()
		return false
	}
	now := e.nowMillis()
	if !fn(e.current, now) {
		e.mu.Unlock()
		return false
	}
	e.persistAndSyncLocked(now)
	updatedAt := e.current.UpdatedAt
	e.mu.Unlock()

	e.metrics.mutation(op)
	e.publish(SyncEvent{Kind: EventLocalChange, UpdatedAt: updatedAt})
	return true
}

func (e *Engine) persistAndSyncLocked(now int64) {
	// Every change must carry a strictly newer stamp, even when the wall
	// clock lags one adopted from another device.
	if now <= e.current.UpdatedAt {
		now = e.current.UpdatedAt + 1
	}
	e.current.UpdatedAt = now
	e.saveLocked()
	e.scheduleWriteLocked()
}

func (e *Engine) saveLocked() {
	if err := e.local.Save(context.Background(), *e.current); err != nil {
		e.log.Errorw("saving local cache", "error", err)
		e.publish(SyncEvent{Kind: EventStorageFailed, Err: err})
	}
}

func (e *Engine) cancelPendingLocked() {
	if e.pending != nil {
		e.pending.Cancel()
		e.pending = nil
	}
	e.gen++
}

// scheduleWriteLocked replaces any pending write with a new one. The write
// sends whatever the document is when the timer fires.
func (e *Engine) scheduleWriteLocked() {
	e.cancelPendingLocked()
	gen := e.gen
	e.pending = e.sched.Schedule(e.debounce, func() {
		e.fire(gen)
	})
}

func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.pending == nil {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	if !e.readyLocked() {
		e.mu.Unlock()
		return
	}
	credential, snapshot, ctx := e.credential, e.current.Clone(), e.ctx
	e.mu.Unlock()

	_ = e.write(ctx, credential, snapshot)
}

func (e *Engine) write(ctx context.Context, credential string, snapshot model.UserData) error {
	ctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	err := e.remote.Write(ctx, credential, snapshot)
	e.metrics.write(err)
	if err != nil {
		e.log.Warnw("remote write failed", "error", err, "updated_at", snapshot.UpdatedAt)
		e.publish(SyncEvent{Kind: EventWriteFailed, UpdatedAt: snapshot.UpdatedAt, Err: err})
		return err
	}
	e.log.Debugw("remote write synced", "updated_at", snapshot.UpdatedAt)
	e.publish(SyncEvent{Kind: EventWriteSynced, UpdatedAt: snapshot.UpdatedAt})
	return nil
}
