// Package session owns the lifetime of collaborative rooms: loading them
// from storage, attaching connections, persisting document state and
// evicting idle rooms.
//
// # Room Storage
//
// The RoomStore interface defines the contract for room persistence:
//
//	store := session.NewRedisStore(session.NewGoRedisClient(rdb))
//	// or
//	store := session.NewSQLStore(db, session.WithSQLDialect(session.DialectSQLite))
//	// or
//	store := session.NewS3Store(s3Client, "bucket", "rooms/")
//	// or (default)
//	store := session.NewMemoryStore()
//
// Redis and S3 hold an encoded Record per room: CBOR with the document
// state zstd-compressed once it exceeds 1 KiB.
//
// # Registry
//
// The Registry keeps at most one Room per id in memory:
//
//	registry := session.NewRegistry(store, session.DefaultRegistryConfig(), logger)
//	room, err := registry.AddConnection(ctx, "board-42", peer)
//	// ...
//	registry.RemoveConnection(room, peer)
//
// When a room's last connection leaves, a grace check is scheduled; it
// persists the room and evicts it once it has been idle past the cutoff.
// Rooms with connections are never evicted.
package session
