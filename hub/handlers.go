package hub

import (
	"castly-sync-server/domain"
	"castly-sync-server/protocol"
)

func (h *Hub) Identify(conn domain.Connection, id domain.Identity) {
	h.exec(conn, domain.EventIdentify, "", func() error {
		res, err := h.conns.Identify(conn.ID(), id)
		if err != nil {
			return err
		}
		if note, changed := h.presence.MarkOnline(res.Identity); changed {
			h.dispatch(note)
			h.dispatch(h.rooms.UpdateIdentity(res.Identity)...)
			h.observe(func(m Mirror) { m.Online(res.Identity) })
		}

		rooms := h.rooms.RoomsOf(res.Identity.UserID)
		h.reply(conn, domain.EventIdentified, protocol.IdentifiedPayload{
			UserID:       res.Identity.UserID,
			ConnectionID: conn.ID(),
			Resumed:      res.Resumed,
			Rooms:        rooms,
		})
		h.reply(conn, domain.EventPresenceSnapshot, protocol.PresenceSnapshotPayload{Users: h.presence.Snapshot()})
		for _, roomID := range rooms {
			if snap, ok := h.rooms.Snapshot(roomID); ok {
				h.reply(conn, domain.EventRoomSnapshot, snap)
			}
		}
		return nil
	})
}

func (h *Hub) Join(conn domain.Connection, roomID string) {
	h.exec(conn, domain.EventRoomJoin, roomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		res, err := h.rooms.CreateOrJoin(roomID, id)
		if err != nil {
			return err
		}
		h.reply(conn, domain.EventRoomSnapshot, res.Snapshot)
		h.dispatch(res.Notifications...)
		if res.Created {
			h.observe(func(m Mirror) { m.RoomOpened(res.Snapshot.RoomID) })
		}
		return nil
	})
}

func (h *Hub) Leave(conn domain.Connection, roomID string) {
	h.exec(conn, domain.EventRoomLeave, roomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		res, err := h.rooms.Leave(roomID, id.UserID)
		if err != nil {
			return err
		}
		h.replyUser(id.UserID, domain.EventRoomLeft, protocol.RoomLeftPayload{RoomID: roomID})
		h.applyLeave(res)
		return nil
	})
}

func (h *Hub) TransferHost(conn domain.Connection, roomID, newHostID string) {
	h.exec(conn, domain.EventRoomTransfer, roomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		note, err := h.rooms.TransferHost(roomID, id.UserID, newHostID)
		if err != nil {
			return err
		}
		h.dispatch(note)
		return nil
	})
}

func (h *Hub) Configure(conn domain.Connection, roomID string, allowMemberControl bool) {
	h.exec(conn, domain.EventRoomConfigure, roomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		note, err := h.rooms.Configure(roomID, id.UserID, allowMemberControl)
		if err != nil {
			return err
		}
		h.dispatch(note)
		return nil
	})
}

// Playback applies a playback command. The issuer's connections receive the
// accepted state; the other members receive it through the engine's fan-out.
func (h *Hub) Playback(conn domain.Connection, roomID string, cmd domain.PlaybackCommand) {
	h.exec(conn, domain.EventPlaybackCommand, roomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		r, ok := h.rooms.Get(roomID)
		if !ok {
			return domain.NotFoundf("room %s not found", roomID)
		}
		update, note, err := h.playback.Apply(r, id.UserID, cmd)
		if err != nil {
			return err
		}
		h.replyUser(id.UserID, domain.EventPlaybackState, update)
		h.dispatch(note)
		return nil
	})
}

// Report checks a client's observed position and corrects that connection
// alone when it drifted.
func (h *Hub) Report(conn domain.Connection, roomID string, position float64) {
	h.exec(conn, domain.EventPlaybackReport, roomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		r, ok := h.rooms.Get(roomID)
		if !ok {
			return domain.NotFoundf("room %s not found", roomID)
		}
		correction, needed, err := h.playback.Report(r, id.UserID, position)
		if err != nil {
			return err
		}
		if needed {
			h.reply(conn, domain.EventPlaybackSync, correction)
		}
		return nil
	})
}

func (h *Hub) Chat(conn domain.Connection, roomID, text string) {
	h.exec(conn, domain.EventChatSend, roomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		r, ok := h.rooms.Get(roomID)
		if !ok {
			return domain.NotFoundf("room %s not found", roomID)
		}
		_, note, err := h.chat.Send(r, id.UserID, text)
		if err != nil {
			return err
		}
		h.dispatch(note)
		return nil
	})
}

// Signal relays a call-setup envelope. Envelopes to identities outside the
// sender's rooms are dropped without any reply.
func (h *Hub) Signal(conn domain.Connection, env domain.SignalingEnvelope) {
	h.exec(conn, domain.EventSignal, env.RoomID, func() error {
		id, err := h.identity(conn)
		if err != nil {
			return err
		}
		env.FromID = id.UserID
		note, ok, err := h.signals.Relay(env)
		if err != nil || !ok {
			return err
		}
		h.dispatch(note)
		return nil
	})
}

// Ping answers on the caller's goroutine; it touches no shared state.
func (h *Hub) Ping(conn domain.Connection, clientTime int64) {
	h.reply(conn, domain.EventPong, protocol.PongPayload{
		Timestamp:  clientTime,
		ServerTime: h.clock.Now().UnixMilli(),
	})
}
