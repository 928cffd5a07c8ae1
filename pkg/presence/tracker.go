// Package presence tracks ephemeral per-client state (cursors,
// selections, user info) for one room.
//
// Entries follow the awareness clock rules: an update applies when it is
// the first seen for its client id, when its clock is newer than the
// stored one, or when it carries the same clock with a null state and
// the entry is still present (an explicit removal). The clock of a
// removed entry is retained so stale updates cannot resurrect it, until
// the connection that last wrote it leaves the room.
package presence

import (
	"bytes"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jammwork/jammwork-sub000/internal/clock"
	"github.com/jammwork/jammwork-sub000/pkg/protocol"
)

// Entry is one client's presence state.
type Entry struct {
	ClientID  string
	Clock     uint64
	State     []byte
	Origin    string
	UpdatedAt time.Time
}

// Change lists the client ids affected by one Apply, Expire or RemoveOwned.
type Change struct {
	Added   []string
	Updated []string
	Removed []string
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// IDs returns every affected client id.
func (c Change) IDs() []string {
	ids := make([]string, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	ids = append(ids, c.Added...)
	ids = append(ids, c.Updated...)
	return append(ids, c.Removed...)
}

// Handler receives one call per state-changing operation.
type Handler func(change Change, origin string)

type meta struct {
	clock     uint64
	origin    string
	updatedAt time.Time
}

// Tracker is a room's presence table. It is safe for concurrent use.
type Tracker struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]*Entry
	metas   map[string]meta

	obsMu     sync.Mutex
	observers map[int]Handler
	nextObsID int
}

// New creates an empty tracker.
func New(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{
		clk:       clk,
		entries:   make(map[string]*Entry),
		metas:     make(map[string]meta),
		observers: make(map[int]Handler),
	}
}

// Apply merges updates received from origin and returns what changed.
// Observers are notified once if anything changed.
func (t *Tracker) Apply(origin string, updates []protocol.PresenceUpdate) Change {
	now := t.clk.Now()
	var change Change

	t.mu.Lock()
	for _, u := range updates {
		m, known := t.metas[u.ClientID]
		cur, present := t.entries[u.ClientID]
		removal := u.Removed()

		if known && !(m.clock < u.Clock || (m.clock == u.Clock && removal && present)) {
			continue
		}
		t.metas[u.ClientID] = meta{clock: u.Clock, origin: origin, updatedAt: now}

		switch {
		case removal && present:
			delete(t.entries, u.ClientID)
			change.Removed = append(change.Removed, u.ClientID)
		case removal:
			// Nothing to remove; the clock still advances.
		case !present:
			t.entries[u.ClientID] = &Entry{
				ClientID:  u.ClientID,
				Clock:     u.Clock,
				State:     append([]byte(nil), u.State...),
				Origin:    origin,
				UpdatedAt: now,
			}
			change.Added = append(change.Added, u.ClientID)
		default:
			changed := !bytes.Equal(cur.State, u.State)
			cur.Clock = u.Clock
			cur.State = append([]byte(nil), u.State...)
			cur.Origin = origin
			cur.UpdatedAt = now
			if changed {
				change.Updated = append(change.Updated, u.ClientID)
			}
		}
	}
	t.mu.Unlock()

	if !change.Empty() {
		t.notify(change, origin)
	}
	return change
}

// RemoveOwned removes every entry last updated by origin and forgets the
// clocks origin wrote, so a client announcing again under the same id
// after reconnecting starts afresh. The returned message carries the
// removals at their last clocks; it is nil when nothing was removed.
func (t *Tracker) RemoveOwned(origin string) (Change, []byte) {
	var change Change
	var updates []protocol.PresenceUpdate

	t.mu.Lock()
	for id, e := range t.entries {
		if e.Origin == origin {
			delete(t.entries, id)
			change.Removed = append(change.Removed, id)
		}
	}
	sort.Strings(change.Removed)
	for _, id := range change.Removed {
		updates = append(updates, protocol.PresenceUpdate{ClientID: id, Clock: t.metas[id].clock})
	}
	for id, m := range t.metas {
		if m.origin == origin {
			delete(t.metas, id)
		}
	}
	t.mu.Unlock()

	if change.Empty() {
		return change, nil
	}
	t.notify(change, origin)
	return change, protocol.EncodePresence(updates)
}

// Expire removes entries not refreshed within timeout. Retained clocks
// of entries removed longer than timeout ago are forgotten.
func (t *Tracker) Expire(timeout time.Duration) Change {
	cutoff := t.clk.Now().Add(-timeout)
	var change Change

	t.mu.Lock()
	for id, e := range t.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(t.entries, id)
			change.Removed = append(change.Removed, id)
		}
	}
	for id, m := range t.metas {
		if _, present := t.entries[id]; !present && m.updatedAt.Before(cutoff) && !slices.Contains(change.Removed, id) {
			delete(t.metas, id)
		}
	}
	t.mu.Unlock()

	sort.Strings(change.Removed)
	if !change.Empty() {
		t.notify(change, "")
	}
	return change
}

// Encode builds a presence message for ids. Ids without an entry are
// encoded as removals at their last known clock; unknown ids are skipped.
// It returns nil when nothing is encoded.
func (t *Tracker) Encode(ids []string) []byte {
	t.mu.Lock()
	updates := make([]protocol.PresenceUpdate, 0, len(ids))
	for _, id := range ids {
		if e, ok := t.entries[id]; ok {
			updates = append(updates, protocol.PresenceUpdate{ClientID: id, Clock: e.Clock, State: e.State})
			continue
		}
		if m, ok := t.metas[id]; ok {
			updates = append(updates, protocol.PresenceUpdate{ClientID: id, Clock: m.clock})
		}
	}
	t.mu.Unlock()

	if len(updates) == 0 {
		return nil
	}
	return protocol.EncodePresence(updates)
}

// EncodeAll builds a presence message carrying every current entry, for
// the snapshot sent to a joining peer. It returns nil when the table is
// empty.
func (t *Tracker) EncodeAll() []byte {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	return t.Encode(ids)
}

// Get returns a copy of the entry for id.
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return Entry{}, false
	}
	cp := *e
	cp.State = append([]byte(nil), e.State...)
	return cp, true
}

// Len returns the number of present entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Observe registers fn and returns a function that unregisters it.
func (t *Tracker) Observe(fn Handler) func() {
	t.obsMu.Lock()
	id := t.nextObsID
	t.nextObsID++
	t.observers[id] = fn
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		delete(t.observers, id)
		t.obsMu.Unlock()
	}
}

func (t *Tracker) notify(change Change, origin string) {
	t.obsMu.Lock()
	ids := make([]int, 0, len(t.observers))
	for id := range t.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.observers[id])
	}
	t.obsMu.Unlock()

	for _, h := range handlers {
		h(change, origin)
	}
}
