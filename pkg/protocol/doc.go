// Package protocol implements the binary wire protocol spoken between
// collaboration clients and the relay.
//
// Every WebSocket binary message starts with a single tag byte that
// selects the message kind. The rest of the message is the kind's
// payload:
//
//	┌──────────┬────────────────────────────────────────────┐
//	│ Tag      │ Payload                                    │
//	│ (1 byte) │ (kind specific, varint length-prefixed)    │
//	└──────────┴────────────────────────────────────────────┘
//
// # Message Kinds
//
//   - MessageSync (0x00): document synchronization
//   - MessagePresence (0x01): ephemeral presence (cursor, selection, identity)
//
// # Sync Sub-messages
//
// Sync payloads follow the y-protocols convention so that existing
// CRDT clients interoperate unchanged:
//
//	[SyncType: varuint][Data: varbytes]
//
//   - SyncStep1: the sender's state vector, a request for what it is missing
//   - SyncStep2: the diff answering a step-1 request
//   - SyncUpdate: an incremental document update
//
// # Presence
//
// Presence payloads carry a list of entries:
//
//	[Count: varuint] { [ClientID: varstring][Clock: varuint][State: varstring] }
//
// State is a JSON document; the literal "null" marks a removed entry.
//
// # Encoding
//
// All integers are unsigned LEB128 varints (7 bits per byte, MSB is the
// continuation bit), the same layout lib0 uses. Byte arrays and strings
// are prefixed with their varint length.
//
// # Errors
//
// Decoding never panics. Truncated buffers, oversized length prefixes and
// unknown tags are reported as *DecodeError, which unwraps to one of the
// sentinel errors (ErrBufferTooShort, ErrUnknownMessageType, ...).
package protocol
