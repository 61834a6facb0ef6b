package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/notegrid/internal/model"
)

func remoteDoc(updatedAt int64, titles ...string) *model.UserData {
	data := model.NewUserData(time.UnixMilli(10))
	data.UpdatedAt = updatedAt
	for i, title := range titles {
		data.Tasks = append(data.Tasks, model.Task{
			ID:        "remote-" + string(rune('a'+i)),
			Title:     title,
			Tags:      []string{},
			Color:     model.DefaultColor(),
			CreatedAt: 10,
			UpdatedAt: updatedAt,
		})
	}
	return &data
}

func TestStalenessGuard(t *testing.T) {
	h := newHarness(t)
	h.engine.Activate(testCredential)
	require.Equal(t, OutcomeAdopted, h.engine.Reconcile(testCredential, remoteDoc(100, "local"), nil))

	assert.Equal(t, OutcomeStale, h.engine.Reconcile(testCredential, remoteDoc(90, "older"), nil))
	assert.Equal(t, "local", mustSnapshot(t, h.engine).Tasks[0].Title)

	assert.Equal(t, OutcomeStale, h.engine.Reconcile(testCredential, remoteDoc(100, "same age"), nil))
	assert.Equal(t, "local", mustSnapshot(t, h.engine).Tasks[0].Title)

	newer := remoteDoc(150, "newer", "extra")
	assert.Equal(t, OutcomeAdopted, h.engine.Reconcile(testCredential, newer, nil))
	assert.Equal(t, *newer, mustSnapshot(t, h.engine))
	assert.Equal(t, *newer, *h.local.stored())
}

func TestEmptyStateCreatedOnFirstFetch(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(12_345)
	h.engine.Activate(testCredential)

	assert.Equal(t, OutcomeEmpty, h.engine.Refresh(context.Background()))

	data := mustSnapshot(t, h.engine)
	assert.Empty(t, data.Tasks)
	assert.Empty(t, data.Links)
	assert.NotNil(t, data.Tasks)
	assert.Equal(t, int64(12_345), data.CreatedAt)
	assert.Equal(t, int64(12_345), data.UpdatedAt)
	assert.NotNil(t, h.local.stored())
}

func TestMissingRemoteDataKeepsEmptiedDocumentStamps(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	h.clock.Set(5_000)
	task, _ := h.engine.AddTask(TaskPatch{Title: Ptr("gone soon")})
	require.True(t, h.engine.DeleteTask(task.ID))
	before := mustSnapshot(t, h.engine)

	h.clock.Set(3_000)
	assert.Equal(t, OutcomeEmpty, h.engine.Reconcile(testCredential, nil, nil))

	after := mustSnapshot(t, h.engine)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.UpdatedAt, h.local.stored().UpdatedAt)

	h.sched.Advance(time.Second)
	require.Equal(t, 1, h.remote.writeCount())
	assert.Equal(t, before.UpdatedAt, h.remote.lastWrite().UpdatedAt)
}

func TestMissingRemoteDataWithLocalWorkPushesIt(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	h.engine.AddTask(TaskPatch{Title: Ptr("unsynced")})
	h.engine.Flush(context.Background())

	assert.Equal(t, OutcomePushed, h.engine.Reconcile(testCredential, nil, nil))
	assert.Equal(t, "unsynced", mustSnapshot(t, h.engine).Tasks[0].Title)

	h.sched.Advance(time.Second)
	assert.Equal(t, 2, h.remote.writeCount())
}

func TestReadFailureFallsBackToCache(t *testing.T) {
	h := newHarness(t)
	cached := remoteDoc(70, "cached")
	require.NoError(t, h.local.Save(context.Background(), *cached))
	h.engine.Activate(testCredential)

	assert.Equal(t, OutcomeFallback, h.engine.Reconcile(testCredential, nil, errors.New("offline")))
	assert.Equal(t, "cached", mustSnapshot(t, h.engine).Tasks[0].Title)

	assert.Equal(t, OutcomeKept, h.engine.Reconcile(testCredential, nil, errors.New("still offline")))
	assert.Equal(t, "cached", mustSnapshot(t, h.engine).Tasks[0].Title)
}

func TestReadFailureWithoutCacheAdoptsEmpty(t *testing.T) {
	h := newHarness(t)
	h.engine.Activate(testCredential)

	assert.Equal(t, OutcomeFallback, h.engine.Reconcile(testCredential, nil, errors.New("offline")))
	data := mustSnapshot(t, h.engine)
	assert.Empty(t, data.Tasks)
	assert.Nil(t, h.local.stored(), "the fallback document is not persisted")
}

func TestResponseForOldCredentialIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	assert.Equal(t, OutcomeDiscarded, h.engine.Reconcile("11111111-2222-3333-4444-555555555555", remoteDoc(9_999, "x"), nil))
	assert.Empty(t, mustSnapshot(t, h.engine).Tasks)
}

func TestStalenessIsCheckedWhenResponseArrives(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	// The read was issued when local was at 1000; while it is in flight the
	// user edits at 5000, so the 3000 response must be discarded.
	h.remote.setData(remoteDoc(3_000, "remote"))
	h.remote.onRead = func() {
		h.clock.Set(5_000)
		h.engine.AddTask(TaskPatch{Title: Ptr("edited meanwhile")})
	}

	assert.Equal(t, OutcomeStale, h.engine.Refresh(context.Background()))
	assert.Equal(t, "edited meanwhile", mustSnapshot(t, h.engine).Tasks[0].Title)
}

func TestSessionStartAdoptsCacheThenRemote(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.local.Save(context.Background(), *remoteDoc(70, "cached")))
	h.remote.setData(remoteDoc(200, "remote"))
	h.engine.Activate(testCredential)

	session := NewSession(h.engine, SessionOptions{PollInterval: time.Minute, Scheduler: h.sched})
	session.Start(context.Background())
	defer session.Stop()
	session.waitIdle()

	assert.Equal(t, "remote", mustSnapshot(t, h.engine).Tasks[0].Title)
	assert.Equal(t, 1, h.remote.readCount())
	assert.True(t, session.pollArmed())
}

func TestSessionPollsOnlyInForeground(t *testing.T) {
	h := newHarness(t)
	h.engine.Activate(testCredential)
	session := NewSession(h.engine, SessionOptions{PollInterval: time.Minute, Scheduler: h.sched})

	session.Start(context.Background())
	defer session.Stop()
	session.waitIdle()
	require.Equal(t, 1, h.remote.readCount())

	h.sched.Advance(time.Minute)
	session.waitIdle()
	assert.Equal(t, 2, h.remote.readCount())

	session.SetForeground(false)
	assert.False(t, session.pollArmed())
	h.sched.Advance(5 * time.Minute)
	session.waitIdle()
	assert.Equal(t, 2, h.remote.readCount())

	session.SetForeground(true)
	session.waitIdle()
	assert.Equal(t, 3, h.remote.readCount(), "returning to the foreground checks immediately")

	h.sched.Advance(time.Minute)
	session.waitIdle()
	assert.Equal(t, 4, h.remote.readCount())
}

func TestSessionNeverDuplicatesPollTimer(t *testing.T) {
	h := newHarness(t)
	h.engine.Activate(testCredential)
	session := NewSession(h.engine, SessionOptions{PollInterval: time.Minute, Scheduler: h.sched})

	session.Start(context.Background())
	session.Start(context.Background())
	for i := 0; i < 5; i++ {
		session.SetForeground(false)
		session.SetForeground(true)
		session.Focus()
	}
	session.waitIdle()
	assert.Equal(t, 1, h.sched.Pending())

	reads := h.remote.readCount()
	h.sched.Advance(time.Minute)
	session.waitIdle()
	assert.Equal(t, reads+1, h.remote.readCount())

	session.Stop()
	assert.Zero(t, h.sched.Pending())
	assert.False(t, session.Running())

	h.sched.Advance(10 * time.Minute)
	assert.Equal(t, reads+1, h.remote.readCount())
}

func TestSessionStopIsIdempotentAndRestartable(t *testing.T) {
	h := newHarness(t)
	h.engine.Activate(testCredential)
	session := NewSession(h.engine, SessionOptions{Scheduler: h.sched})

	session.Stop()
	session.Start(context.Background())
	session.Stop()
	session.Stop()
	session.Start(context.Background())
	session.waitIdle()
	assert.True(t, session.pollArmed())
	session.Stop()
}

func TestSessionRestartWhileReadsInFlight(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	h.remote.onRead = func() { time.Sleep(time.Millisecond) }
	session := NewSession(h.engine, SessionOptions{PollInterval: time.Minute, Scheduler: h.sched})
	session.Start(context.Background())

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				session.SetForeground(i%2 == 0)
				h.engine.AddTask(TaskPatch{Title: Ptr("busy")})
			}
		}(i)
	}

	for i := 0; i < 50; i++ {
		session.Stop()
		session.Start(context.Background())
	}
	close(done)
	wg.Wait()
	session.Stop()

	assert.False(t, session.Running())
	assert.False(t, session.pollArmed())
}
