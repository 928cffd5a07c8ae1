package session

import "time"

// Metrics receives registry events. The server package implements it
// with prometheus collectors.
type Metrics interface {
	RoomLoaded(source string)
	RoomEvicted(reason string)
	RoomsResident(n int)
	Persisted(d time.Duration, err error)
	Broadcast(roomID string, recipients int)
	BroadcastDropped(roomID string)
}

type nopMetrics struct{}

func (nopMetrics) RoomLoaded(string)              {}
func (nopMetrics) RoomEvicted(string)             {}
func (nopMetrics) RoomsResident(int)              {}
func (nopMetrics) Persisted(time.Duration, error) {}
func (nopMetrics) Broadcast(string, int)          {}
func (nopMetrics) BroadcastDropped(string)        {}
