package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ducthai1/caro-hopee-sub000/internal/hub"
	"github.com/ducthai1/caro-hopee-sub000/internal/room"
	"github.com/ducthai1/caro-hopee-sub000/pkg/types"
)

const writeTimeout = 3 * time.Second

// joinReplyTimeout bounds the wait for a room to answer a join. A room whose
// actor already shut down (sweeper purge racing the hub lookup) never drains
// its inbox again, and the connection must not hang on it.
const joinReplyTimeout = 5 * time.Second

// Handler upgrades a connection and binds it into a room. Joining happens at
// connect time: the room key and claimed identity ride in the query string,
// everything after that is command envelopes over the socket.
func Handler(h *hub.Hub, logger *zap.Logger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("room")
		if key == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}
		identity, err := room.ParseIdentity(r.URL.Query().Get("identity"))
		if err != nil {
			http.Error(w, "bad identity", http.StatusBadRequest)
			return
		}
		displayName := r.URL.Query().Get("name")

		roomReply := make(chan *room.Room, 1)
		h.Inbox() <- hub.GetRoom{Key: key, Reply: roomReply}
		rm := <-roomReply
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		outbox := make(chan types.Event, 32)
		joinReply := make(chan room.JoinReply, 1)
		rm.Inbox() <- room.Join{
			ConnID:      connID,
			Identity:    identity,
			DisplayName: displayName,
			Outbox:      outbox,
			Reply:       joinReply,
		}
		var jr room.JoinReply
		select {
		case jr = <-joinReply:
		case <-r.Context().Done():
			conn.Close(websocket.StatusGoingAway, "client gone")
			return
		case <-time.After(joinReplyTimeout):
			jr = room.JoinReply{Err: room.ErrRoomClosed}
		}
		if jr.Err != nil {
			writeEvent(r.Context(), conn, types.Event{Type: types.EvtError, Data: types.ErrorData{
				Code:    joinErrorCode(jr.Err),
				Message: jr.Err.Error(),
			}})
			conn.Close(websocket.StatusPolicyViolation, "join rejected")
			return
		}

		h.Inbox() <- hub.Bind{ConnID: connID, RoomID: rm.ID(), Player: jr.Player}
		defer func() {
			rm.Inbox() <- room.Leave{ConnID: connID}
			h.Inbox() <- hub.Unbind{ConnID: connID}
		}()

		logger.Info("connection joined",
			zap.String("conn_id", connID),
			zap.String("room_id", rm.ID()),
			zap.Int("player", jr.Player))

		// Writer: drains the outbox until the room closes it (leave, shutdown
		// or supersede), then tears the transport down so the reader exits.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for evt := range outbox {
				writeEvent(writeCtx, conn, evt)
			}
			conn.Close(websocket.StatusNormalClosure, "room detached connection")
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cmd types.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				writeEvent(r.Context(), conn, types.Event{Type: types.EvtError, Data: types.ErrorData{
					Code:    types.CodeBadRequest,
					Message: "bad json",
				}})
				continue
			}

			rm.Inbox() <- room.FromClient{ConnID: connID, Cmd: cmd}
			if cmd.Type == types.CmdLeaveRoom {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt types.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, payload)
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomFull):
		return types.CodeRoomFull
	case errors.Is(err, room.ErrRoomClosed):
		return types.CodeRoomNotFound
	case errors.Is(err, room.ErrIdentityConflict):
		return types.CodeIdentityConflict
	default:
		return types.CodeBadRequest
	}
}
