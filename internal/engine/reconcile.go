package engine

import (
	"context"

	"github.com/Joseda-hg/notegrid/internal/model"
)

// Outcome describes what a reconciliation did with a remote read.
type Outcome string

const (
	OutcomeAdopted   Outcome = "adopted"
	OutcomeStale     Outcome = "stale"
	OutcomeEmpty     Outcome = "empty"
	OutcomePushed    Outcome = "pushed"
	OutcomeFallback  Outcome = "fallback"
	OutcomeKept      Outcome = "kept"
	OutcomeDiscarded Outcome = "discarded"
)

// Refresh reads the remote document for the active credential and reconciles
// it with the current one.
func (e *Engine) Refresh(ctx context.Context) Outcome {
	e.mu.Lock()
	credential, engineCtx := e.credential, e.ctx
	e.mu.Unlock()
	if credential == "" {
		return OutcomeDiscarded
	}

	ctx, cancel := mergeCancel(ctx, engineCtx)
	defer cancel()

	data, err := e.remote.Read(ctx, credential)
	e.metrics.read(err)
	outcome := e.Reconcile(credential, data, err)
	e.metrics.reconciled(outcome)
	return outcome
}

// Reconcile applies the result of a remote read issued for credential. The
// staleness check runs against the document as it is now, not as it was when
// the read was issued.
func (e *Engine) Reconcile(credential string, remote *model.UserData, readErr error) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if credential == "" || credential != e.credential {
		return OutcomeDiscarded
	}

	if readErr != nil {
		e.log.Warnw("remote read failed", "error", readErr)
		e.publish(SyncEvent{Kind: EventReadFailed, Err: readErr})
		if e.current != nil {
			return OutcomeKept
		}
		if cached := e.local.Load(context.Background()); cached != nil {
			e.current = cached
		} else {
			empty := model.NewUserData(e.now())
			e.current = &empty
		}
		e.publish(SyncEvent{Kind: EventLocalChange, UpdatedAt: e.current.UpdatedAt})
		return OutcomeFallback
	}

	if remote == nil {
		if e.current == nil {
			empty := model.NewUserData(e.now())
			e.current = &empty
			e.saveLocked()
			e.publish(SyncEvent{Kind: EventLocalChange, UpdatedAt: empty.UpdatedAt})
			return OutcomeEmpty
		}
		if isEmpty(*e.current) {
			// Keep the existing stamps; a fresh document could predate them.
			e.saveLocked()
			return OutcomeEmpty
		}
		// The server lost or never received our document; push it.
		e.scheduleWriteLocked()
		return OutcomePushed
	}

	if e.current != nil && remote.UpdatedAt <= e.current.UpdatedAt {
		return OutcomeStale
	}

	adopted := remote.Clone()
	e.current = &adopted
	e.saveLocked()
	e.publish(SyncEvent{Kind: EventRemoteAdopted, UpdatedAt: adopted.UpdatedAt})
	return OutcomeAdopted
}

func isEmpty(data model.UserData) bool {
	return len(data.Tasks) == 0 && len(data.Links) == 0
}

// mergeCancel returns a context derived from ctx that is also cancelled when
// other is.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
