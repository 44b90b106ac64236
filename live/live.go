// Package live implements the live-query dispatcher (C12): it fans
// committed change-feed entries out to subscribers registered against a
// LiveQueryId, each over its own bounded, ordered channel. A subscriber
// that falls behind is dropped and sent an implicit Kill rather than
// blocking the dispatcher or silently reordering events.
package live

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/surrealdb/surrealdb-sub027/cf"
	"github.com/surrealdb/surrealdb-sub027/vs"
)

// ID identifies one registered live query.
type ID uint64

// EventKind discriminates the notification variants delivered to a
// subscriber.
type EventKind int

const (
	EventCreate EventKind = iota
	EventUpdate
	EventDelete
	// EventKill is the last event a subscriber receives before its channel
	// is closed. When the dispatcher drops a slow consumer it always
	// delivers one; an explicit Kill delivers it only if the channel has
	// room.
	EventKill
)

// Event is one notification delivered to a live query's channel, ordered
// by the ChangeSet's versionstamp.
type Event struct {
	Kind     EventKind
	Table    string
	Mutation cf.TableMutation
	VS       vs.VS
}

// DefaultChannelSize bounds each subscriber's backlog before it is
// considered slow and dropped.
const DefaultChannelSize = 128

type subscriber struct {
	ch       chan Event
	table    string
	closed   bool
}

// Dispatcher owns every live query's channel for one (namespace, database).
type Dispatcher struct {
	mu   sync.Mutex
	subs map[ID]*subscriber
	log  *zap.Logger
	size int
}

func NewDispatcher(log *zap.Logger, channelSize int) *Dispatcher {
	if channelSize <= 0 {
		channelSize = DefaultChannelSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{subs: make(map[ID]*subscriber), log: log, size: channelSize}
}

// Register opens a new bounded channel for id watching table, replacing
// any previous registration under the same id.
func (d *Dispatcher) Register(id ID, table string) <-chan Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.subs[id]; ok {
		d.closeLocked(old)
	}
	sub := &subscriber{ch: make(chan Event, d.size), table: table}
	d.subs[id] = sub
	return sub.ch
}

// Kill explicitly unregisters id, delivering one final EventKill before
// closing its channel (best-effort: a full channel drops the Kill event
// itself rather than blocking the caller).
func (d *Dispatcher) Kill(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.subs[id]
	if !ok {
		return
	}
	select {
	case sub.ch <- Event{Kind: EventKill}:
	default:
	}
	d.closeLocked(sub)
	delete(d.subs, id)
}

func (d *Dispatcher) closeLocked(sub *subscriber) {
	if !sub.closed {
		close(sub.ch)
		sub.closed = true
	}
}

// Dispatch fans one committed ChangeSet out to every subscriber watching
// an affected table, in versionstamp order (the caller is expected to call
// Dispatch once per ChangeSet in the order cf.Scan returns them, so
// "ordered" here is "dispatch never reorders what it's handed"). A
// subscriber whose channel is full is dropped and killed rather than
// allowed to block every other subscriber or silently skip ahead.
func (d *Dispatcher) Dispatch(ctx context.Context, cs cf.ChangeSet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, tm := range cs.Database.Tables {
		kind := eventKindFor(tm)
		for id, sub := range d.subs {
			if sub.table != tm.Table {
				continue
			}
		mutationLoop:
			for _, m := range tm.Mutations {
				ev := Event{Kind: kind, Table: tm.Table, Mutation: m, VS: cs.VS}
				select {
				case sub.ch <- ev:
				default:
					d.log.Warn("live: dropping slow subscriber", zap.Uint64("live_query_id", uint64(id)))
					// The channel is full: discard its oldest buffered event
					// so the final EventKill always fits.
					select {
					case <-sub.ch:
					default:
					}
					select {
					case sub.ch <- Event{Kind: EventKill}:
					default:
					}
					d.closeLocked(sub)
					delete(d.subs, id)
					break mutationLoop // channel is closed now; stop feeding it more mutations
				}
			}
		}
	}
}

func eventKindFor(tm cf.TableMutations) EventKind {
	if len(tm.Mutations) == 0 {
		return EventUpdate
	}
	switch tm.Mutations[0].Kind {
	case cf.MutationSet:
		return EventUpdate
	case cf.MutationDel:
		return EventDelete
	default:
		return EventCreate
	}
}

// Count reports the number of currently registered subscribers, for
// diagnostics/tests.
func (d *Dispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
