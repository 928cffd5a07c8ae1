// Package server exposes rooms over WebSocket.
//
// Each connection is attached to one room, named by the {room} path
// segment of /ws/{room} or by the "room" query parameter. Inbound binary
// frames are decoded with package protocol and dispatched to the room;
// malformed frames are logged and counted but never close the socket.
//
// Outbound frames go through a bounded per-connection queue. A peer that
// lets its queue fill up is disconnected rather than slowing down the
// rest of the room.
//
// A HealthMonitor pings every connection once per HeartbeatInterval and
// terminates those that did not answer the previous ping. The same
// maintenance loop runs session.Registry.Sweep every PersistInterval.
//
// Admin routes:
//
//	GET /healthz   liveness and room/connection counts
//	GET /stats     session.Stats as JSON
//	GET /metrics   Prometheus exposition
package server
