package engine

import "time"

type EventKind string

const (
	EventLocalChange   EventKind = "local_change"
	EventWriteSynced   EventKind = "write_synced"
	EventWriteFailed   EventKind = "write_failed"
	EventReadFailed    EventKind = "read_failed"
	EventRemoteAdopted EventKind = "remote_adopted"
	EventStorageFailed EventKind = "storage_failed"
)

// SyncEvent reports sync activity to interested hosts, for example to show a
// "last synced" or "offline" indicator.
type SyncEvent struct {
	Kind      EventKind
	At        time.Time
	UpdatedAt int64
	Err       error
}

func (e SyncEvent) Detail() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.UpdatedAt != 0 {
		return "updatedAt " + time.UnixMilli(e.UpdatedAt).UTC().Format(time.RFC3339)
	}
	return ""
}

// Subscribe registers a listener. Events are dropped for listeners whose
// buffer is full. The returned func unsubscribes and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan SyncEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan SyncEvent, buffer)

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

func (e *Engine) publish(event SyncEvent) {
	if event.At.IsZero() {
		event.At = e.now()
	}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
