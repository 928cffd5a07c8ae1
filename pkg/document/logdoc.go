package document

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jammwork/jammwork-sub000/pkg/protocol"
)

// ErrMalformedUpdate is returned for updates or state vectors that do not
// decode.
var ErrMalformedUpdate = errors.New("document: malformed update")

// LogDocument is an operation-log CRDT. Every change is an item
// identified by (client, clock) where clock counts up from zero per
// client. Replicas merge by set union, so applying updates is idempotent
// and commutative, and EncodeState is canonical: replicas holding the
// same items encode to identical bytes.
//
// Items that arrive ahead of a gap in a client's clock sequence are
// kept pending; they are still part of EncodeState and Diff so that no
// replica loses content it has seen, but they are not counted in the
// state vector until the gap is filled.
//
// Update wire format (varints as in package protocol):
//
//	[clients: varuint] { [client: varuint][items: varuint] { [clock: varuint][content: varbytes] } }
//
// State vector wire format:
//
//	[clients: varuint] { [client: varuint][next clock: varuint] }
type LogDocument struct {
	mu       sync.Mutex
	clientID uint64
	logs     map[uint64]*clientLog

	obsMu     sync.Mutex
	observers map[int]UpdateHandler
	nextObsID int
}

type clientLog struct {
	// items[i] has clock i.
	items   [][]byte
	pending map[uint64][]byte
}

type item struct {
	client  uint64
	clock   uint64
	content []byte
}

// NewLogDocument creates an empty document. clientID identifies local
// edits made with Insert; a server-side replica that never edits can
// pass 0.
func NewLogDocument(clientID uint64) *LogDocument {
	return &LogDocument{
		clientID:  clientID,
		logs:      make(map[uint64]*clientLog),
		observers: make(map[int]UpdateHandler),
	}
}

// NewFactory returns a Factory producing server-side LogDocuments.
func NewFactory() Factory {
	return func() Document { return NewLogDocument(0) }
}

// Insert appends a local edit and returns the update describing it.
// Observers are notified with origin "local".
func (d *LogDocument) Insert(content []byte) []byte {
	d.mu.Lock()
	log := d.logLocked(d.clientID)
	it := item{client: d.clientID, clock: uint64(len(log.items)), content: append([]byte(nil), content...)}
	log.items = append(log.items, it.content)
	d.drainLocked(log)
	d.mu.Unlock()

	update := encodeItems([]item{it})
	d.notify(update, "local")
	return update
}

// ApplyUpdate implements Document.
func (d *LogDocument) ApplyUpdate(update []byte, origin string) error {
	items, err := decodeItems(update)
	if err != nil {
		return err
	}

	d.mu.Lock()
	var added []item
	for _, it := range items {
		log := d.logLocked(it.client)
		next := uint64(len(log.items))
		switch {
		case it.clock < next:
			continue
		case it.clock == next:
			log.items = append(log.items, it.content)
			d.drainLocked(log)
			added = append(added, it)
		default:
			if log.pending == nil {
				log.pending = make(map[uint64][]byte)
			}
			if _, ok := log.pending[it.clock]; ok {
				continue
			}
			log.pending[it.clock] = it.content
			added = append(added, it)
		}
	}
	d.mu.Unlock()

	if len(added) > 0 {
		d.notify(encodeItems(added), origin)
	}
	return nil
}

// EncodeState implements Document.
func (d *LogDocument) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeItems(d.itemsSinceLocked(nil))
}

// EncodeStateVector implements Document.
func (d *LogDocument) EncodeStateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	clients := d.sortedClientsLocked()
	e := protocol.NewEncoderWithCap(1 + len(clients)*4)
	e.WriteUvarint(uint64(len(clients)))
	for _, c := range clients {
		e.WriteUvarint(c)
		e.WriteUvarint(uint64(len(d.logs[c].items)))
	}
	return e.Bytes()
}

// Diff implements Document.
func (d *LogDocument) Diff(stateVector []byte) ([]byte, error) {
	sv, err := DecodeStateVector(stateVector)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeItems(d.itemsSinceLocked(sv)), nil
}

// Observe implements Document.
func (d *LogDocument) Observe(fn UpdateHandler) func() {
	d.obsMu.Lock()
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = fn
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

func (d *LogDocument) notify(update []byte, origin string) {
	d.obsMu.Lock()
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]UpdateHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, d.observers[id])
	}
	d.obsMu.Unlock()

	for _, h := range handlers {
		h(update, origin)
	}
}

func (d *LogDocument) logLocked(client uint64) *clientLog {
	log, ok := d.logs[client]
	if !ok {
		log = &clientLog{}
		d.logs[client] = log
	}
	return log
}

// drainLocked moves pending items that became contiguous into items.
func (d *LogDocument) drainLocked(log *clientLog) {
	for len(log.pending) > 0 {
		next := uint64(len(log.items))
		content, ok := log.pending[next]
		if !ok {
			return
		}
		delete(log.pending, next)
		log.items = append(log.items, content)
	}
}

func (d *LogDocument) sortedClientsLocked() []uint64 {
	clients := make([]uint64, 0, len(d.logs))
	for c := range d.logs {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// itemsSinceLocked returns, in canonical order, every item whose clock is
// at or past sv[client]. A nil sv selects everything.
func (d *LogDocument) itemsSinceLocked(sv map[uint64]uint64) []item {
	var out []item
	for _, c := range d.sortedClientsLocked() {
		log := d.logs[c]
		from := sv[c]
		for clock := from; clock < uint64(len(log.items)); clock++ {
			out = append(out, item{client: c, clock: clock, content: log.items[clock]})
		}

		if len(log.pending) == 0 {
			continue
		}
		clocks := make([]uint64, 0, len(log.pending))
		for clock := range log.pending {
			if clock >= from {
				clocks = append(clocks, clock)
			}
		}
		sort.Slice(clocks, func(i, j int) bool { return clocks[i] < clocks[j] })
		for _, clock := range clocks {
			out = append(out, item{client: c, clock: clock, content: log.pending[clock]})
		}
	}
	return out
}

// encodeItems encodes items that are already grouped by client.
func encodeItems(items []item) []byte {
	e := protocol.NewEncoder()

	var groups [][]item
	for i, it := range items {
		if i == 0 || items[i-1].client != it.client {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], it)
	}

	e.WriteUvarint(uint64(len(groups)))
	for _, g := range groups {
		e.WriteUvarint(g[0].client)
		e.WriteUvarint(uint64(len(g)))
		for _, it := range g {
			e.WriteUvarint(it.clock)
			e.WriteVarBytes(it.content)
		}
	}
	return e.Bytes()
}

func decodeItems(update []byte) ([]item, error) {
	d := protocol.NewDecoder(update)

	clients, err := d.ReadCollectionCount(2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	var items []item
	for i := 0; i < clients; i++ {
		client, err := d.ReadUvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
		}
		n, err := d.ReadCollectionCount(2)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
		}
		for j := 0; j < n; j++ {
			clock, err := d.ReadUvarint()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
			}
			content, err := d.ReadVarBytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
			}
			items = append(items, item{client: client, clock: clock, content: content})
		}
	}
	if !d.EOF() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedUpdate, d.Remaining())
	}
	return items, nil
}

// DecodeStateVector decodes a state vector into client → next clock.
// An empty input is the empty state vector.
func DecodeStateVector(sv []byte) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64)
	if len(sv) == 0 {
		return out, nil
	}

	d := protocol.NewDecoder(sv)
	n, err := d.ReadCollectionCount(2)
	if err != nil {
		return nil, fmt.Errorf("%w: state vector: %v", ErrMalformedUpdate, err)
	}
	for i := 0; i < n; i++ {
		client, err := d.ReadUvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: state vector: %v", ErrMalformedUpdate, err)
		}
		clock, err := d.ReadUvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: state vector: %v", ErrMalformedUpdate, err)
		}
		out[client] = clock
	}
	return out, nil
}
