package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jammwork/jammwork-sub000/internal/clock"
	"github.com/jammwork/jammwork-sub000/pkg/document"
)

const tracerName = "github.com/jammwork/jammwork-sub000/pkg/session"

// RegistryConfig configures the room registry.
type RegistryConfig struct {
	// MaxRooms is the number of resident rooms above which zero-connection
	// rooms are evicted. Rooms with connections are never evicted, so the
	// bound is soft.
	// Default: 1000.
	MaxRooms int

	// IdleCutoff is how long a room without connections stays resident.
	// Default: 1 hour.
	IdleCutoff time.Duration

	// GracePeriod is the delay between the last connection leaving and
	// the room being persisted (and evicted if idle).
	// Default: 30 seconds.
	GracePeriod time.Duration

	// PersistInterval is how often Sweep is expected to run.
	// Default: 30 seconds.
	PersistInterval time.Duration

	// PersistTimeout bounds persistence I/O started by the registry itself.
	// Default: 5 seconds.
	PersistTimeout time.Duration

	// PresenceTimeout is how long a presence entry lives without refresh.
	// Default: 30 seconds.
	PresenceTimeout time.Duration
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxRooms:        1000,
		IdleCutoff:      time.Hour,
		GracePeriod:     30 * time.Second,
		PersistInterval: 30 * time.Second,
		PersistTimeout:  5 * time.Second,
		PresenceTimeout: 30 * time.Second,
	}
}

// Error types for room management.
var (
	// ErrRegistryStopped is returned when operations are attempted on a stopped registry.
	ErrRegistryStopped = errors.New("session: registry is stopped")

	// ErrInvalidRoomID is returned for empty or oversized room ids.
	ErrInvalidRoomID = errors.New("session: invalid room id")

	// ErrRoomNotResident is returned by Persist for rooms not in memory.
	ErrRoomNotResident = errors.New("session: room not resident")
)

// MaxRoomIDLength is the longest accepted room id.
const MaxRoomIDLength = 255

// Registry owns every resident room: it loads rooms from the store on
// first use, persists them, and evicts idle ones.
type Registry struct {
	mu sync.Mutex

	rooms    map[string]*Room
	loading  map[string]*loadCall
	evicting map[string]*Room

	config    RegistryConfig
	store     RoomStore
	newDoc    document.Factory
	clk       clock.Clock
	scheduler *Scheduler
	metrics   Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	stopped bool
}

type loadCall struct {
	done chan struct{}
	room *Room
	err  error
}

// RegistryOption configures optional Registry dependencies.
type RegistryOption func(*Registry)

// WithClock sets the clock used for activity times and grace timers.
func WithClock(clk clock.Clock) RegistryOption {
	return func(r *Registry) { r.clk = clk }
}

// WithDocumentFactory sets how new room documents are created.
// Default: document.NewFactory().
func WithDocumentFactory(f document.Factory) RegistryOption {
	return func(r *Registry) { r.newDoc = f }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a room registry. A nil store keeps rooms in a
// MemoryStore.
func NewRegistry(store RoomStore, config RegistryConfig, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}

	defaults := DefaultRegistryConfig()
	if config.MaxRooms <= 0 {
		config.MaxRooms = defaults.MaxRooms
	}
	if config.IdleCutoff <= 0 {
		config.IdleCutoff = defaults.IdleCutoff
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = defaults.GracePeriod
	}
	if config.PersistInterval <= 0 {
		config.PersistInterval = defaults.PersistInterval
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = defaults.PersistTimeout
	}
	if config.PresenceTimeout <= 0 {
		config.PresenceTimeout = defaults.PresenceTimeout
	}

	r := &Registry{
		rooms:    make(map[string]*Room),
		loading:  make(map[string]*loadCall),
		evicting: make(map[string]*Room),
		config:   config,
		store:    store,
		newDoc:   document.NewFactory(),
		clk:      clock.Real(),
		metrics:  nopMetrics{},
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.scheduler = NewScheduler(r.clk)
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() RegistryConfig {
	return r.config
}

// Store returns the backing room store.
func (r *Registry) Store() RoomStore {
	return r.store
}

// GetOrCreate returns the resident room for id, loading it from the
// store or creating it empty. Concurrent calls for the same id share one
// load; a room being evicted is resurrected rather than reloaded.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Room, error) {
	if id == "" || len(id) > MaxRoomIDLength {
		return nil, ErrInvalidRoomID
	}

	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return nil, ErrRegistryStopped
		}
		if room, ok := r.rooms[id]; ok {
			r.mu.Unlock()
			return room, nil
		}
		if room, ok := r.evicting[id]; ok {
			delete(r.evicting, id)
			r.rooms[id] = room
			r.mu.Unlock()
			r.logger.Debug("room resurrected during eviction", "room", id)
			return room, nil
		}
		if call, ok := r.loading[id]; ok {
			r.mu.Unlock()
			select {
			case <-call.done:
				// The loader's context ended; load again under ours.
				if isContextError(call.err) && ctx.Err() == nil {
					continue
				}
				return call.room, call.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		call := &loadCall{done: make(chan struct{})}
		r.loading[id] = call
		atCapacity := len(r.rooms) >= r.config.MaxRooms
		r.mu.Unlock()

		r.runLoad(ctx, id, call, atCapacity)
		return call.room, call.err
	}
}

// runLoad performs the load registered as call and publishes its result.
// call.done is closed even if the load panics.
func (r *Registry) runLoad(ctx context.Context, id string, call *loadCall, atCapacity bool) {
	var (
		room *Room
		err  error
	)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("room load panicked", "room", id, "panic", p)
			room, err = nil, fmt.Errorf("session: load room %s: panic: %v", id, p)
		}

		r.mu.Lock()
		delete(r.loading, id)
		switch {
		case err != nil:
			call.err = err
		case r.stopped:
			call.err = ErrRegistryStopped
		default:
			r.rooms[id] = room
			call.room = room
		}
		resident := len(r.rooms)
		r.mu.Unlock()
		close(call.done)

		r.metrics.RoomsResident(resident)
	}()

	if atCapacity {
		r.relieveCapacity()
	}
	room, err = r.load(ctx, id)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// load rehydrates a room from the store. Store and decode failures are
// logged and yield an empty room; only cancellation of ctx is returned.
func (r *Registry) load(ctx context.Context, id string) (*Room, error) {
	ctx, span := r.tracer.Start(ctx, "session.load",
		trace.WithAttributes(attribute.String("relay.room", id)))
	defer span.End()

	doc := r.newDoc()
	lastActivity := r.clk.Now()
	source := "new"

	state, storedActivity, err := r.store.Load(ctx, id)
	switch {
	case errors.Is(err, ErrRoomNotFound):
	case err != nil && ctx.Err() != nil:
		span.RecordError(err)
		return nil, ctx.Err()
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("failed to load room, starting empty", "room", id, "error", err)
		source = "error"
	default:
		if applyErr := doc.ApplyUpdate(state, "store"); applyErr != nil {
			span.RecordError(applyErr)
			r.logger.Warn("stored room state is corrupt, starting empty", "room", id, "error", applyErr)
			doc = r.newDoc()
			source = "error"
		} else {
			lastActivity = storedActivity
			source = "store"
		}
	}

	span.SetAttributes(attribute.String("relay.source", source))
	r.metrics.RoomLoaded(source)
	r.logger.Debug("room loaded", "room", id, "source", source)
	return newRoom(id, doc, lastActivity, r.clk, r.logger, r.metrics), nil
}

// Get returns the resident room for id, or nil.
func (r *Registry) Get(id string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[id]
}

// AddConnection attaches p to the room id, loading the room if needed,
// and cancels a pending grace check.
func (r *Registry) AddConnection(ctx context.Context, id string, p Peer) (*Room, error) {
	for {
		room, err := r.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		r.scheduler.Cancel(id)

		err = room.Join(p)
		if errors.Is(err, ErrRoomClosed) {
			// Evicted between lookup and join; the next lookup reloads it.
			continue
		}
		if err != nil {
			room.Leave(p)
			r.scheduleGraceIfEmpty(room)
			return nil, err
		}
		return room, nil
	}
}

// RemoveConnection detaches p from room. When the room becomes empty a
// grace check is scheduled; a new connection cancels it.
func (r *Registry) RemoveConnection(room *Room, p Peer) {
	if room.Leave(p) == 0 {
		r.scheduleGraceIfEmpty(room)
	}
}

func (r *Registry) scheduleGraceIfEmpty(room *Room) {
	if room.Connections() > 0 {
		return
	}
	id := room.ID()
	r.scheduler.Schedule(id, r.config.GracePeriod, func() {
		r.graceCheck(id)
	})
}

// graceCheck persists an empty room, then evicts it if it is still empty
// and idle past the cutoff.
func (r *Registry) graceCheck(id string) {
	room := r.Get(id)
	if room == nil || room.Connections() > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.PersistTimeout)
	defer cancel()
	if room.Dirty() {
		if err := r.persistRoom(ctx, room); err != nil {
			return
		}
	}

	cutoff := r.clk.Now().Add(-r.config.IdleCutoff)
	r.evict(func(rm *Room) bool { return rm == room && rm.evictableLocked(cutoff) }, "grace")
}

// Persist writes the room's current state to the store. Failures are
// logged and returned; the room stays resident either way.
func (r *Registry) Persist(ctx context.Context, id string) error {
	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		room, ok = r.evicting[id]
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotResident, id)
	}
	return r.persistRoom(ctx, room)
}

func (r *Registry) persistRoom(ctx context.Context, room *Room) error {
	room.persistMu.Lock()
	defer room.persistMu.Unlock()

	ctx, span := r.tracer.Start(ctx, "session.persist",
		trace.WithAttributes(attribute.String("relay.room", room.ID())))
	defer span.End()

	state, lastActivity, version := room.snapshot()
	span.SetAttributes(attribute.Int("relay.state_bytes", len(state)))

	start := time.Now()
	err := r.store.Save(ctx, room.ID(), state, lastActivity)
	r.metrics.Persisted(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("failed to persist room", "room", room.ID(), "error", err)
		return fmt.Errorf("persist room %s: %w", room.ID(), err)
	}

	room.markPersisted(version)
	return nil
}

// PersistAll persists every resident room. Failures are isolated per
// room and joined into the returned error.
func (r *Registry) PersistAll(ctx context.Context) error {
	var errs []error
	for _, room := range r.residentRooms() {
		if err := r.persistRoom(ctx, room); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EvictIdle evicts every room with no connections whose last activity is
// older than cutoff. Rooms are persisted before they are dropped. It
// returns the number of rooms evicted.
func (r *Registry) EvictIdle(cutoff time.Duration) int {
	before := r.clk.Now().Add(-cutoff)
	return r.evict(func(rm *Room) bool { return rm.evictableLocked(before) }, "idle")
}

// relieveCapacity makes room for a new resident room: idle rooms go
// first, then zero-connection rooms least recently active first.
func (r *Registry) relieveCapacity() {
	r.EvictIdle(r.config.IdleCutoff)

	r.mu.Lock()
	excess := len(r.rooms) - r.config.MaxRooms + 1
	type candidate struct {
		room *Room
		last time.Time
	}
	var candidates []candidate
	if excess > 0 {
		for _, room := range r.rooms {
			room.mu.Lock()
			if room.evictableLocked(time.Time{}) {
				candidates = append(candidates, candidate{room: room, last: room.lastActivity})
			}
			room.mu.Unlock()
		}
	}
	r.mu.Unlock()

	if excess <= 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].last.Before(candidates[j].last) })
	if len(candidates) > excess {
		candidates = candidates[:excess]
	}
	chosen := make(map[*Room]bool, len(candidates))
	for _, c := range candidates {
		chosen[c.room] = true
	}

	evicted := 0
	if len(chosen) > 0 {
		evicted = r.evict(func(rm *Room) bool { return chosen[rm] && rm.evictableLocked(time.Time{}) }, "capacity")
	}
	if evicted < excess {
		r.logger.Warn("room capacity exceeded, every remaining room has connections",
			"max_rooms", r.config.MaxRooms,
			"resident", r.Len())
	}
}

// evict moves rooms matching pred out of the resident set, persists the
// dirty ones, then drops them. A room requested or joined while its
// persist is in flight stays resident, as does a room whose persist
// failed.
func (r *Registry) evict(pred func(*Room) bool, reason string) int {
	r.mu.Lock()
	var victims []*Room
	for id, room := range r.rooms {
		room.mu.Lock()
		ok := pred(room)
		room.mu.Unlock()
		if ok {
			delete(r.rooms, id)
			r.evicting[id] = room
			victims = append(victims, room)
		}
	}
	r.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}

	evicted := 0
	for _, room := range victims {
		var persistErr error
		if room.Dirty() {
			ctx, cancel := context.WithTimeout(context.Background(), r.config.PersistTimeout)
			persistErr = r.persistRoom(ctx, room)
			cancel()
		}

		r.mu.Lock()
		if r.evicting[room.ID()] != room {
			// Resurrected by GetOrCreate.
			r.mu.Unlock()
			continue
		}
		delete(r.evicting, room.ID())
		if persistErr != nil || !room.close() {
			r.rooms[room.ID()] = room
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		r.scheduler.Cancel(room.ID())
		evicted++
		r.metrics.RoomEvicted(reason)
		r.logger.Debug("evicted room", "room", room.ID(), "reason", reason)
	}

	r.metrics.RoomsResident(r.Len())
	return evicted
}

// Sweep runs periodic maintenance: expire stale presence entries,
// persist dirty rooms, and evict idle ones.
func (r *Registry) Sweep(ctx context.Context) error {
	var errs []error
	for _, room := range r.residentRooms() {
		room.ExpirePresence(r.config.PresenceTimeout)
		if !room.Dirty() {
			continue
		}
		if err := r.persistRoom(ctx, room); err != nil {
			errs = append(errs, err)
		}
	}

	if n := r.EvictIdle(r.config.IdleCutoff); n > 0 {
		r.logger.Debug("swept idle rooms", "evicted", n, "remaining", r.Len())
	}
	return errors.Join(errs...)
}

// Len returns the number of resident rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) residentRooms() []*Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID() < rooms[j].ID() })
	return rooms
}

// Shutdown stops grace timers, refuses new rooms, and persists every
// resident room.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.scheduler.Stop()

	rooms := r.residentRooms()
	if err := r.PersistAll(ctx); err != nil {
		r.logger.Warn("failed to persist rooms on shutdown", "error", err, "count", len(rooms))
		return err
	}
	r.logger.Info("persisted rooms on shutdown", "count", len(rooms))
	return nil
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	rooms := r.residentRooms()

	r.mu.Lock()
	stats := Stats{
		Loading:  len(r.loading),
		Evicting: len(r.evicting),
	}
	r.mu.Unlock()

	stats.Rooms = len(rooms)
	stats.Details = make([]RoomStats, 0, len(rooms))
	for _, room := range rooms {
		rs := room.Stats()
		stats.Connections += rs.Connections
		stats.Details = append(stats.Details, rs)
	}
	return stats
}

// Stats contains registry statistics.
type Stats struct {
	// Rooms is the number of resident rooms.
	Rooms int `json:"rooms"`

	// Connections is the total number of attached peers.
	Connections int `json:"connections"`

	// Loading is the number of rooms being loaded from the store.
	Loading int `json:"loading"`

	// Evicting is the number of rooms whose eviction persist is in flight.
	Evicting int `json:"evicting"`

	// Details lists every resident room.
	Details []RoomStats `json:"details"`
}

// RoomStats describes one resident room.
type RoomStats struct {
	ID              string    `json:"id"`
	Connections     int       `json:"connections"`
	Peers           []string  `json:"peers,omitempty"`
	PresenceEntries int       `json:"presence_entries"`
	LastActivity    time.Time `json:"last_activity"`
	Dirty           bool      `json:"dirty"`
}
