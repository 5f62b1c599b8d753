package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ducthai1/caro-hopee-sub000/internal/game"
	"github.com/ducthai1/caro-hopee-sub000/pkg/types"
)

var ErrBadSnapshot = errors.New("malformed room snapshot")

// snapshot captures the room for the persistence mirror. Only called from the
// actor loop.
func (r *Room) snapshot() types.RoomSnapshot {
	snap := types.RoomSnapshot{
		ID:            r.id,
		Code:          r.code,
		BoardSize:     r.boardSize,
		Status:        string(r.status),
		CurrentPlayer: r.state.Current,
		Cells:         append([]int(nil), r.state.Cells...),
		Score:         r.scoreData(),
		CreatedAt:     r.createdAt,
		LastActivity:  r.lastActivity,
	}
	for _, mv := range r.state.Moves {
		snap.Moves = append(snap.Moves, types.MoveRecord{
			Number: mv.Number, Player: mv.Player, Row: mv.Row, Col: mv.Col,
		})
	}
	for _, s := range r.slots {
		if s != nil {
			snap.Slots = append(snap.Slots, types.SlotSnapshot{
				Player: s.Player, Identity: s.Identity.String(), DisplayName: s.DisplayName,
			})
		}
	}
	return snap
}

// Restore rebuilds a room from a snapshot, e.g. after a process restart. All
// connection bindings start empty; seated identities reconnect on their own.
func Restore(parent context.Context, snap types.RoomSnapshot, ref game.Referee, mirror Mirror, logger *zap.Logger) (*Room, error) {
	if snap.BoardSize <= 0 || len(snap.Cells) != snap.BoardSize*snap.BoardSize {
		return nil, fmt.Errorf("%w: board size %d with %d cells", ErrBadSnapshot, snap.BoardSize, len(snap.Cells))
	}
	if len(snap.Slots) > 2 {
		return nil, fmt.Errorf("%w: %d slots", ErrBadSnapshot, len(snap.Slots))
	}
	if Status(snap.Status) == StatusPlaying && len(snap.Slots) != 2 {
		return nil, fmt.Errorf("%w: playing with %d slots", ErrBadSnapshot, len(snap.Slots))
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:           snap.ID,
		code:         snap.Code,
		boardSize:    snap.BoardSize,
		status:       Status(snap.Status),
		state:        game.NewState(snap.BoardSize),
		createdAt:    snap.CreatedAt,
		lastActivity: snap.LastActivity,
		conns:        make(map[string]chan types.Event),
		inbox:        make(chan Msg, 64),
		referee:      ref,
		mirror:       mirror,
		logger:       logger.With(zap.String("room_id", snap.ID), zap.String("code", snap.Code)),
		ctx:          ctx,
		cancel:       cancel,
	}

	copy(r.state.Cells, snap.Cells)
	r.state.Current = snap.CurrentPlayer
	for _, mv := range snap.Moves {
		r.state.Moves = append(r.state.Moves, game.Move{
			Number: mv.Number, Player: mv.Player, Row: mv.Row, Col: mv.Col,
		})
	}

	for _, ss := range snap.Slots {
		if ss.Player < 1 || ss.Player > 2 {
			cancel()
			return nil, fmt.Errorf("%w: player %d", ErrBadSnapshot, ss.Player)
		}
		id, err := ParseIdentity(ss.Identity)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		r.slots[ss.Player-1] = &Slot{Player: ss.Player, Identity: id, DisplayName: ss.DisplayName}
	}

	r.score[1] = snap.Score.Player1
	r.score[2] = snap.Score.Player2
	if r.lastActivity.IsZero() {
		r.lastActivity = time.Now()
	}

	go r.loop()
	return r, nil
}
