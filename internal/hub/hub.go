package hub

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ducthai1/caro-hopee-sub000/internal/game"
	"github.com/ducthai1/caro-hopee-sub000/internal/room"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

type Msg interface{ isHubMsg() }

type CreateRoom struct {
	BoardSize int
	Reply     chan *room.Room
}

// GetRoom looks a room up by id or by its 6-char code (case-insensitive).
type GetRoom struct {
	Key   string
	Reply chan *room.Room
}

type ListRooms struct {
	Reply chan []*room.Room
}

type RemoveRoom struct{ ID string }

// AddRoom registers an already-built room, e.g. one rehydrated from a
// snapshot. The reply is false when the id or code is already taken.
type AddRoom struct {
	Room  *room.Room
	Reply chan bool
}

// Bind records which room and seat a connection resolved to. The registry is
// only ever mutated through these messages.
type Bind struct {
	ConnID string
	RoomID string
	Player int
}

type Unbind struct{ ConnID string }

type GetBinding struct {
	ConnID string
	Reply  chan Binding
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (ListRooms) isHubMsg()   {}
func (RemoveRoom) isHubMsg()  {}
func (AddRoom) isHubMsg()     {}
func (Bind) isHubMsg()        {}
func (Unbind) isHubMsg()      {}
func (GetBinding) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Binding struct {
	RoomID string
	Player int
	OK     bool
}

// Hub owns the process-wide room table and the connection registry. Like the
// rooms it manages, it is a single-goroutine actor, so code collision checks
// and registry rebinds are race-free.
type Hub struct {
	inbox    chan Msg
	rooms    map[string]*room.Room
	codes    map[string]string // code -> room id
	registry map[string]Binding

	referee game.Referee
	mirror  room.Mirror
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, ref game.Referee, mirror room.Mirror, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan Msg, 64),
		rooms:    make(map[string]*room.Room),
		codes:    make(map[string]string),
		registry: make(map[string]Binding),
		referee:  ref,
		mirror:   mirror,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.createRoom(msg.BoardSize)

			case GetRoom:
				msg.Reply <- h.lookup(msg.Key)

			case ListRooms:
				rooms := make([]*room.Room, 0, len(h.rooms))
				for _, r := range h.rooms {
					rooms = append(rooms, r)
				}
				msg.Reply <- rooms

			case RemoveRoom:
				h.removeRoom(msg.ID)

			case AddRoom:
				if _, idTaken := h.rooms[msg.Room.ID()]; idTaken {
					msg.Reply <- false
					break
				}
				if _, codeTaken := h.codes[msg.Room.Code()]; codeTaken {
					msg.Reply <- false
					break
				}
				h.rooms[msg.Room.ID()] = msg.Room
				h.codes[msg.Room.Code()] = msg.Room.ID()
				msg.Reply <- true

			case Bind:
				h.registry[msg.ConnID] = Binding{RoomID: msg.RoomID, Player: msg.Player, OK: true}

			case Unbind:
				delete(h.registry, msg.ConnID)

			case GetBinding:
				msg.Reply <- h.registry[msg.ConnID]

			case ShutdownHub:
				for _, r := range h.rooms {
					r.Inbox() <- room.Shutdown{}
				}
				clear(h.rooms)
				clear(h.codes)
				clear(h.registry)
				h.cancel()
			}
		}
	}
}

func (h *Hub) createRoom(boardSize int) *room.Room {
	code, err := h.uniqueCode()
	if err != nil {
		h.logger.Error("generate room code", zap.Error(err))
		return nil
	}
	id := uuid.NewString()
	r := room.New(h.ctx, id, code, boardSize, h.referee, h.mirror, h.logger)
	h.rooms[id] = r
	h.codes[code] = id
	h.logger.Info("room created", zap.String("room_id", id), zap.String("code", code))
	return r
}

func (h *Hub) lookup(key string) *room.Room {
	if r, ok := h.rooms[key]; ok {
		return r
	}
	if len(key) == codeLength {
		if id, ok := h.codes[normalizeCode(key)]; ok {
			return h.rooms[id]
		}
	}
	return nil
}

func (h *Hub) removeRoom(id string) {
	r, ok := h.rooms[id]
	if !ok {
		return
	}
	delete(h.codes, r.Code())
	delete(h.rooms, id)
	for connID, b := range h.registry {
		if b.RoomID == id {
			delete(h.registry, connID)
		}
	}
	h.logger.Info("room removed", zap.String("room_id", id), zap.String("code", r.Code()))
}

// uniqueCode generates codes until one misses the live-code table. Collisions
// are checked inside the hub loop, so two concurrent creates can never race
// into the same code.
func (h *Hub) uniqueCode() (string, error) {
	for {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := h.codes[code]; !taken {
			return code, nil
		}
	}
}

func generateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

func normalizeCode(code string) string {
	b := []byte(code)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// RunSweeper reclaims abandoned rooms on a periodic sweep until ctx is done.
// Each room is asked through its own inbox, so the check happens under the
// room's serialization and never purges a room that just became active.
func (h *Hub) RunSweeper(ctx context.Context, interval, idleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(idleAfter)
		}
	}
}

// Sweep runs one reclamation pass.
func (h *Hub) Sweep(idleAfter time.Duration) {
	listReply := make(chan []*room.Room, 1)
	h.inbox <- ListRooms{Reply: listReply}
	rooms := <-listReply

	for _, r := range rooms {
		reply := make(chan bool, 1)
		select {
		case r.Inbox() <- room.CheckIdle{IdleAfter: idleAfter, Reply: reply}:
		case <-time.After(time.Second):
			// A room with a full, unserviced inbox must not stall the pass.
			h.logger.Warn("room inbox stalled, skipping idle check", zap.String("room_id", r.ID()))
			continue
		}
		select {
		case idle := <-reply:
			if idle {
				r.Inbox() <- room.Shutdown{}
				h.inbox <- RemoveRoom{ID: r.ID()}
			}
		case <-time.After(time.Second):
			h.logger.Warn("room did not answer idle check", zap.String("room_id", r.ID()))
		}
	}
}
