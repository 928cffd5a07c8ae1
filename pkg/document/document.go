// Package document defines the replicated document handle a room owns.
//
// The merge algorithm behind a Document is opaque to the relay: the
// relay only moves bytes between peers and storage. Implementations
// must be safe for concurrent use.
package document

// UpdateHandler is called after an update changed the document.
// update holds only the content that was new to this replica; origin is
// the value passed to ApplyUpdate (a connection id for remote updates).
type UpdateHandler func(update []byte, origin string)

// Document is a CRDT-backed replicated document.
type Document interface {
	// ApplyUpdate merges an update (or a step-2 diff) into the document.
	// A malformed update is rejected as a whole and leaves the document
	// unchanged. Applying content the document already has is a no-op
	// and does not notify observers.
	ApplyUpdate(update []byte, origin string) error

	// EncodeState encodes the full document as a single update.
	EncodeState() []byte

	// EncodeStateVector encodes a summary of what this replica has seen.
	EncodeStateVector() []byte

	// Diff encodes the content a replica with the given state vector is
	// missing.
	Diff(stateVector []byte) ([]byte, error)

	// Observe registers fn for change notifications. The returned
	// function unsubscribes; calling it more than once is safe.
	Observe(fn UpdateHandler) (unsubscribe func())
}

// Factory creates empty documents.
type Factory func() Document
