package server

import (
	"runtime/debug"

	"github.com/jammwork/jammwork-sub000/pkg/protocol"
	"github.com/jammwork/jammwork-sub000/pkg/session"
)

// dispatch decodes one inbound frame and routes it to the room. Decode
// and apply failures are logged and counted; the connection stays open.
func (s *Server) dispatch(c *Conn, room *session.Room, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			s.metrics.panicked()
			c.logger.Error("dispatch panic",
				"panic", r,
				"stack", string(stack))
		}
	}()

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.metrics.decodeError("frame")
		c.logger.Debug("frame decode error", "error", err, "size", len(data))
		return
	}

	switch msg.Type {
	case protocol.MessageSync:
		s.metrics.message("sync")
		sm, err := protocol.DecodeSync(msg.Payload)
		if err != nil {
			s.metrics.decodeError("sync")
			c.logger.Debug("sync decode error", "error", err)
			return
		}
		if err := room.HandleSync(c, sm); err != nil {
			s.metrics.applyError()
			c.logger.Debug("sync apply error", "error", err, "sync_type", sm.Type)
		}

	case protocol.MessagePresence:
		s.metrics.message("presence")
		updates, err := protocol.DecodePresence(msg.Payload)
		if err != nil {
			s.metrics.decodeError("presence")
			c.logger.Debug("presence decode error", "error", err)
			return
		}
		room.HandlePresence(c, updates)

	default:
		s.metrics.decodeError("unknown")
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}
