package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jammwork/jammwork-sub000/internal/clock"
	"github.com/jammwork/jammwork-sub000/pkg/document"
	"github.com/jammwork/jammwork-sub000/pkg/presence"
	"github.com/jammwork/jammwork-sub000/pkg/protocol"
)

// Peer is a connection attached to a room.
type Peer interface {
	// ID is the unique connection id. Broadcasts skip the peer whose id
	// equals the message origin.
	ID() string

	// UserID is the optional user the connection authenticated as.
	UserID() string

	// Send enqueues a frame without blocking. An error means the frame
	// was dropped; the peer is responsible for closing itself.
	Send(frame []byte) error
}

// ErrRoomClosed is returned when joining a room that has been evicted.
var ErrRoomClosed = errors.New("session: room closed")

// Room is a resident collaborative document with its presence table and
// attached peers.
//
// The room mutex serializes document and presence mutation together with
// the enqueue of the resulting broadcast, so frames from one origin reach
// every other peer in the order they were applied.
type Room struct {
	id       string
	doc      document.Document
	presence *presence.Tracker
	clk      clock.Clock
	logger   *slog.Logger
	metrics  Metrics

	mu               sync.Mutex
	peers            map[string]Peer
	lastActivity     time.Time
	version          uint64
	persistedVersion uint64
	closed           bool
	unobserve        func()

	// persistMu orders snapshots of this room on their way to storage.
	persistMu sync.Mutex
}

func newRoom(id string, doc document.Document, lastActivity time.Time, clk clock.Clock, logger *slog.Logger, metrics Metrics) *Room {
	r := &Room{
		id:           id,
		doc:          doc,
		presence:     presence.New(clk),
		clk:          clk,
		logger:       logger.With("room", id),
		metrics:      metrics,
		peers:        make(map[string]Peer),
		lastActivity: lastActivity,
	}
	// Called from ApplyUpdate while r.mu is held by HandleSync.
	r.unobserve = doc.Observe(func(update []byte, origin string) {
		r.version++
		r.broadcastLocked(protocol.EncodeSyncUpdate(update), origin)
	})
	return r
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Document returns the room's document.
func (r *Room) Document() document.Document { return r.doc }

// Presence returns the room's presence tracker.
func (r *Room) Presence() *presence.Tracker { return r.presence }

// LastActivity returns the time of the last join, leave or message.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Connections returns the number of attached peers.
func (r *Room) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Dirty reports whether the document changed since the last successful persist.
func (r *Room) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version != r.persistedVersion
}

// Join attaches p and enqueues the handshake: sync step 1 carrying the
// room's state vector, then the presence table if it is not empty.
func (r *Room) Join(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}

	r.peers[p.ID()] = p
	r.lastActivity = r.clk.Now()

	if err := p.Send(protocol.EncodeSyncStep1(r.doc.EncodeStateVector())); err != nil {
		return err
	}
	if snapshot := r.presence.EncodeAll(); snapshot != nil {
		if err := p.Send(snapshot); err != nil {
			return err
		}
	}
	return nil
}

// Leave detaches p, removes the presence entries it controlled and
// broadcasts their removal. It returns the number of peers left.
func (r *Room) Leave(p Peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[p.ID()]; !ok {
		return len(r.peers)
	}
	delete(r.peers, p.ID())
	r.lastActivity = r.clk.Now()

	if _, msg := r.presence.RemoveOwned(p.ID()); msg != nil {
		r.broadcastLocked(msg, p.ID())
	}
	return len(r.peers)
}

// HandleSync processes a sync message from p. Step 1 is answered with a
// step 2 diff to p only; step 2 and updates are merged into the document
// and the effective update is broadcast to every other peer.
func (r *Room) HandleSync(p Peer, msg *protocol.SyncMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = r.clk.Now()

	switch msg.Type {
	case protocol.SyncStep1:
		diff, err := r.doc.Diff(msg.Data)
		if err != nil {
			return err
		}
		return p.Send(protocol.EncodeSyncStep2(diff))
	case protocol.SyncStep2, protocol.SyncUpdate:
		return r.doc.ApplyUpdate(msg.Data, p.ID())
	default:
		return protocol.ErrUnknownSyncType
	}
}

// HandlePresence merges presence updates from p and broadcasts the
// changed entries to every other peer.
func (r *Room) HandlePresence(p Peer, updates []protocol.PresenceUpdate) presence.Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = r.clk.Now()

	change := r.presence.Apply(p.ID(), updates)
	if !change.Empty() {
		if msg := r.presence.Encode(change.IDs()); msg != nil {
			r.broadcastLocked(msg, p.ID())
		}
	}
	return change
}

// ExpirePresence removes presence entries not refreshed within timeout
// and broadcasts their removal to every peer.
func (r *Room) ExpirePresence(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	change := r.presence.Expire(timeout)
	if len(change.Removed) > 0 {
		if msg := r.presence.Encode(change.Removed); msg != nil {
			r.broadcastLocked(msg, "")
		}
	}
	return len(change.Removed)
}

// broadcastLocked enqueues frame to every peer except origin.
func (r *Room) broadcastLocked(frame []byte, origin string) {
	sent := 0
	for id, p := range r.peers {
		if id == origin {
			continue
		}
		if err := p.Send(frame); err != nil {
			r.logger.Debug("broadcast dropped",
				"conn_id", id,
				"user_id", p.UserID(),
				"error", err)
			r.metrics.BroadcastDropped(r.id)
			continue
		}
		sent++
	}
	r.metrics.Broadcast(r.id, sent)
}

// snapshot returns the encoded document state, the last activity and
// the version the state corresponds to.
func (r *Room) snapshot() ([]byte, time.Time, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeState(), r.lastActivity, r.version
}

func (r *Room) markPersisted(version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version > r.persistedVersion {
		r.persistedVersion = version
	}
}

// evictableLocked reports whether the room may be dropped from memory:
// no peers and, when cutoff is non-zero, idle since before cutoff.
func (r *Room) evictableLocked(cutoff time.Time) bool {
	if len(r.peers) > 0 || r.closed {
		return false
	}
	return cutoff.IsZero() || r.lastActivity.Before(cutoff)
}

// close detaches the room's observers. It fails if a peer joined in the
// meantime.
func (r *Room) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.peers) > 0 {
		return false
	}
	r.closed = true
	if r.unobserve != nil {
		r.unobserve()
		r.unobserve = nil
	}
	return true
}

// Stats returns a point-in-time view of the room.
func (r *Room) Stats() RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]string, 0, len(r.peers))
	for id := range r.peers {
		peers = append(peers, id)
	}
	sort.Strings(peers)

	return RoomStats{
		ID:              r.id,
		Connections:     len(r.peers),
		Peers:           peers,
		PresenceEntries: r.presence.Len(),
		LastActivity:    r.lastActivity,
		Dirty:           r.version != r.persistedVersion,
	}
}
