package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ducthai1/caro-hopee-sub000/internal/game"
	"github.com/ducthai1/caro-hopee-sub000/pkg/types"
)

var ErrRoomFull = errors.New("room is full")
var ErrIdentityConflict = errors.New("identity cannot be placed in this room")
var ErrRoomClosed = errors.New("room is closed")
var ErrGameNotPlaying = errors.New("game is not in progress")
var ErrNotSeated = errors.New("connection is not seated in this room")
var ErrNotReady = errors.New("both seats must be taken before starting")
var ErrGameNotFinished = errors.New("game is still in progress")
var ErrUndoNotAllowed = errors.New("undo not allowed")
var ErrStaleUndo = errors.New("undo request is stale")

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPlaying   Status = "playing"
	StatusFinished  Status = "finished"
	StatusAbandoned Status = "abandoned"
)

// PendingUndo is the single outstanding undo negotiation, fenced by the move
// number it targets. Any accepted move clears it.
type PendingUndo struct {
	MoveNumber  int
	RequestedBy int
}

// Mirror is the asynchronous persistence boundary. Implementations must not
// block: the room calls these while holding its serialization turn.
type Mirror interface {
	Save(snap types.RoomSnapshot)
	Delete(id string)
}

type Msg interface{ isRoomMsg() }

// Join seats (or re-seats) an identity and registers the connection's outbox.
type Join struct {
	ConnID      string
	Identity    Identity
	DisplayName string
	Outbox      chan types.Event
	Reply       chan JoinReply
}

type JoinReply struct {
	Player int
	Err    error
}

// FromClient carries a decoded command envelope from a seated connection.
type FromClient struct {
	ConnID string
	Cmd    types.Command
}

type Leave struct{ ConnID string }

// CheckIdle asks the room whether it should be reclaimed. A true reply means
// the room has marked itself abandoned and can be purged.
type CheckIdle struct {
	IdleAfter time.Duration
	Reply     chan bool
}

type GetState struct{ Reply chan View }

type Serialize struct{ Reply chan types.RoomSnapshot }

type Shutdown struct{}

func (Join) isRoomMsg()       {}
func (FromClient) isRoomMsg() {}
func (Leave) isRoomMsg()      {}
func (CheckIdle) isRoomMsg()  {}
func (GetState) isRoomMsg()   {}
func (Serialize) isRoomMsg()  {}
func (Shutdown) isRoomMsg()   {}

// View is a read-only copy of room state, safe to use outside the actor.
type View struct {
	ID            string
	Code          string
	BoardSize     int
	Status        Status
	Players       []types.PlayerInfo
	CurrentPlayer int
	MoveCount     int
	Score         types.Score
	NumConns      int
	PendingUndo   *PendingUndo
}

// Room owns the authoritative state of one match. A single goroutine drains
// the inbox, so every mutation and precondition check runs race-free.
type Room struct {
	id        string
	code      string
	boardSize int

	status       Status
	state        *game.State
	slots        [2]*Slot
	pendingUndo  *PendingUndo
	score        [3]int // indexed by player number, 0 unused
	createdAt    time.Time
	lastActivity time.Time

	conns   map[string]chan types.Event
	inbox   chan Msg
	referee game.Referee
	mirror  Mirror
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, id, code string, boardSize int, ref game.Referee, mirror Mirror, logger *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	r := &Room{
		id:           id,
		code:         code,
		boardSize:    boardSize,
		status:       StatusWaiting,
		state:        game.NewState(boardSize),
		createdAt:    now,
		lastActivity: now,
		conns:        make(map[string]chan types.Event),
		inbox:        make(chan Msg, 64),
		referee:      ref,
		mirror:       mirror,
		logger:       logger.With(zap.String("room_id", id), zap.String("code", code)),
		ctx:          ctx,
		cancel:       cancel,
	}
	go r.loop()
	return r
}

func (r *Room) ID() string        { return r.id }
func (r *Room) Code() string      { return r.code }
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)
			case FromClient:
				r.handleCommand(msg)
			case Leave:
				r.handleLeave(msg.ConnID)
			case CheckIdle:
				msg.Reply <- r.handleCheckIdle(msg.IdleAfter)
			case GetState:
				msg.Reply <- r.view()
			case Serialize:
				msg.Reply <- r.snapshot()
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	if r.status == StatusAbandoned {
		msg.Reply <- JoinReply{Err: ErrRoomClosed}
		return
	}

	slot, err := r.resolveSlot(msg.Identity)
	if err != nil {
		msg.Reply <- JoinReply{Err: err}
		return
	}

	// Rebinding: a prior connection on this seat is superseded, not the seat
	// holder being kicked.
	if slot.ConnID != "" && slot.ConnID != msg.ConnID {
		if old, ok := r.conns[slot.ConnID]; ok {
			notified := r.send(old, types.Event{Type: types.EvtSuperseded, Data: types.SupersededData{
				Reason: "identity reconnected from another connection",
			}})
			if !notified {
				r.logger.Warn("superseded notice dropped, stale outbox full", zap.String("conn_id", slot.ConnID))
			}
			close(old)
			delete(r.conns, slot.ConnID)
		}
	}
	slot.ConnID = msg.ConnID
	if msg.DisplayName != "" {
		slot.DisplayName = msg.DisplayName
	}
	r.conns[msg.ConnID] = msg.Outbox
	r.touch()

	msg.Reply <- JoinReply{Player: slot.Player}

	r.sendTo(msg.ConnID, types.Event{Type: types.EvtRoomJoined, Data: types.RoomJoinedData{
		RoomID:        r.id,
		Code:          r.code,
		You:           slot.Player,
		Players:       r.playerInfos(),
		Status:        string(r.status),
		CurrentPlayer: r.state.Current,
		Board:         r.state.Grid(),
		MoveNumber:    r.state.MoveCount(),
		Score:         r.scoreData(),
	}})
	r.broadcastExcept(msg.ConnID, types.Event{Type: types.EvtPlayerJoined, Data: types.PlayerJoinedData{
		Player: r.playerInfo(slot),
	}})

	r.logger.Info("player joined",
		zap.String("conn_id", msg.ConnID),
		zap.String("identity", msg.Identity.String()),
		zap.Int("player", slot.Player))
	r.save()
}

func (r *Room) handleCommand(msg FromClient) {
	slot := r.slotByConn(msg.ConnID)
	if slot == nil {
		r.sendError(msg.ConnID, ErrNotSeated)
		return
	}

	var err error
	switch msg.Cmd.Type {
	case types.CmdStartGame:
		err = r.start()
	case types.CmdMakeMove:
		err = r.applyMove(slot, msg.Cmd.Row, msg.Cmd.Col)
	case types.CmdRequestUndo:
		err = r.requestUndo(slot, msg.Cmd.MoveNumber)
	case types.CmdApproveUndo:
		err = r.approveUndo(slot, msg.Cmd.MoveNumber)
	case types.CmdRejectUndo:
		r.rejectUndo()
	case types.CmdLeaveRoom:
		r.handleLeave(msg.ConnID)
	case types.CmdSurrender:
		err = r.surrender(slot)
	case types.CmdNewGame:
		err = r.newGame()
	default:
		r.sendTo(msg.ConnID, types.Event{Type: types.EvtError, Data: types.ErrorData{
			Code: types.CodeBadRequest, Message: "unknown command " + msg.Cmd.Type,
		}})
		return
	}
	if err != nil {
		r.sendError(msg.ConnID, err)
	}
}

func (r *Room) start() error {
	if r.status != StatusWaiting {
		return ErrGameNotPlaying
	}
	if r.slots[0] == nil || r.slots[1] == nil {
		return ErrNotReady
	}
	r.status = StatusPlaying
	r.state.Current = game.P1
	r.touch()
	r.broadcast(types.Event{Type: types.EvtGameStarted, Data: types.GameStartedData{CurrentPlayer: game.P1}})
	r.logger.Info("game started")
	r.save()
	return nil
}

func (r *Room) applyMove(slot *Slot, row, col int) error {
	if r.status != StatusPlaying {
		return ErrGameNotPlaying
	}
	mv, err := r.state.Apply(slot.Player, row, col)
	if err != nil {
		return err
	}

	// Fencing: an accepted move invalidates any outstanding undo request.
	r.pendingUndo = nil
	r.touch()

	r.broadcast(types.Event{Type: types.EvtMoveMade, Data: types.MoveMadeData{
		Row:           mv.Row,
		Col:           mv.Col,
		Player:        mv.Player,
		MoveNumber:    mv.Number,
		Board:         r.state.Grid(),
		CurrentPlayer: r.state.Current,
	}})

	// Win/draw detection and the finish transition happen inside the same
	// serialization turn as the move itself.
	if res, done := r.referee.Judge(r.state, mv); done {
		reason := "win"
		if res.Winner == 0 {
			reason = "draw"
		}
		r.finish(res.Winner, reason)
	} else {
		r.save()
	}
	return nil
}

func (r *Room) requestUndo(slot *Slot, moveNumber int) error {
	if r.status != StatusPlaying {
		return ErrGameNotPlaying
	}
	if r.pendingUndo != nil {
		return ErrUndoNotAllowed
	}
	last, ok := r.state.LastMove()
	if !ok {
		return ErrUndoNotAllowed
	}
	if moveNumber != last.Number {
		return ErrStaleUndo
	}
	if last.Player == slot.Player {
		// Undo is a concession granted by the opponent: only the player who
		// did not make the move may ask for it to be taken back.
		return ErrUndoNotAllowed
	}

	r.pendingUndo = &PendingUndo{MoveNumber: moveNumber, RequestedBy: slot.Player}
	r.broadcast(types.Event{Type: types.EvtUndoRequested, Data: types.UndoRequestedData{
		MoveNumber:  moveNumber,
		RequestedBy: slot.Player,
	}})
	return nil
}

func (r *Room) approveUndo(slot *Slot, moveNumber int) error {
	if r.pendingUndo == nil {
		// Distinguish "nothing was ever requested" from "the request was
		// fenced away by a newer move".
		if moveNumber != r.state.MoveCount() {
			return ErrStaleUndo
		}
		return ErrUndoNotAllowed
	}
	if moveNumber != r.pendingUndo.MoveNumber {
		r.pendingUndo = nil
		return ErrStaleUndo
	}
	if slot.Player == r.pendingUndo.RequestedBy {
		return ErrUndoNotAllowed
	}

	mv, err := r.state.RevertLast()
	if err != nil {
		// pendingUndo pointing at a move that no longer exists is an internal
		// invariant violation, not a caller mistake.
		r.fail("revert last move", err)
		return ErrStaleUndo
	}
	r.pendingUndo = nil
	r.touch()

	r.broadcast(types.Event{Type: types.EvtUndoApproved, Data: types.UndoApprovedData{
		MoveNumber:    mv.Number,
		Board:         r.state.Grid(),
		CurrentPlayer: r.state.Current,
	}})
	r.save()
	return nil
}

func (r *Room) rejectUndo() {
	if r.pendingUndo == nil {
		return
	}
	moveNumber := r.pendingUndo.MoveNumber
	r.pendingUndo = nil
	r.broadcast(types.Event{Type: types.EvtUndoRejected, Data: types.UndoRejectedData{MoveNumber: moveNumber}})
}

func (r *Room) surrender(slot *Slot) error {
	if r.status != StatusPlaying {
		return ErrGameNotPlaying
	}
	r.finish(game.Opponent(slot.Player), "surrender")
	return nil
}

func (r *Room) newGame() error {
	if r.status != StatusFinished {
		return ErrGameNotFinished
	}
	r.state.Reset()
	r.pendingUndo = nil
	if r.slots[0] != nil && r.slots[1] != nil && r.slots[0].ConnID != "" && r.slots[1].ConnID != "" {
		r.status = StatusPlaying
		r.touch()
		r.broadcast(types.Event{Type: types.EvtGameStarted, Data: types.GameStartedData{CurrentPlayer: game.P1}})
	} else {
		r.status = StatusWaiting
		r.touch()
	}
	r.save()
	return nil
}

func (r *Room) finish(winner int, reason string) {
	r.status = StatusFinished
	r.pendingUndo = nil
	if winner != 0 {
		r.score[winner]++
	}
	r.broadcast(types.Event{Type: types.EvtGameFinished, Data: types.GameFinishedData{Winner: winner, Reason: reason}})
	r.broadcast(types.Event{Type: types.EvtScoreUpdated, Data: types.ScoreUpdatedData{Score: r.scoreData()}})
	r.logger.Info("game finished", zap.Int("winner", winner), zap.String("reason", reason))
	r.save()
}

func (r *Room) handleLeave(connID string) {
	outbox, ok := r.conns[connID]
	if ok {
		close(outbox)
		delete(r.conns, connID)
	}
	slot := r.slotByConn(connID)
	if slot == nil {
		return
	}
	// The seat stays taken; only the transport binding is dropped, so the same
	// identity can reconnect later.
	slot.ConnID = ""
	r.broadcast(types.Event{Type: types.EvtPlayerLeft, Data: types.PlayerLeftData{
		Player:   slot.Player,
		Identity: slot.Identity.String(),
	}})
	r.logger.Info("player left", zap.Int("player", slot.Player))
}

func (r *Room) handleCheckIdle(idleAfter time.Duration) bool {
	if r.status == StatusAbandoned {
		return true
	}
	for _, s := range r.slots {
		if s != nil && s.ConnID != "" {
			return false
		}
	}
	if time.Since(r.lastActivity) <= idleAfter {
		return false
	}
	r.status = StatusAbandoned
	if r.mirror != nil {
		r.mirror.Delete(r.id)
	}
	r.logger.Info("room abandoned", zap.Time("last_activity", r.lastActivity))
	return true
}

// fail handles an internal invariant violation: log it and take the room out
// of play rather than leave inconsistent state behind.
func (r *Room) fail(op string, err error) {
	r.logger.Error("invariant violation, abandoning room", zap.String("op", op), zap.Error(err))
	r.status = StatusAbandoned
	if r.mirror != nil {
		r.mirror.Delete(r.id)
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.conns {
		close(ch)
		delete(r.conns, id)
	}
	r.status = StatusAbandoned
	r.cancel()

	// Answer whatever queued up behind the shutdown so no caller blocks on a
	// reply that will never come.
	for {
		select {
		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- JoinReply{Err: ErrRoomClosed}
			case CheckIdle:
				msg.Reply <- true
			case GetState:
				msg.Reply <- r.view()
			case Serialize:
				msg.Reply <- r.snapshot()
			}
		default:
			return
		}
	}
}

func (r *Room) slotByConn(connID string) *Slot {
	for _, s := range r.slots {
		if s != nil && s.ConnID == connID {
			return s
		}
	}
	return nil
}

func (r *Room) touch() { r.lastActivity = time.Now() }

func (r *Room) save() {
	if r.mirror != nil {
		r.mirror.Save(r.snapshot())
	}
}

func (r *Room) sendError(connID string, err error) {
	code := errorCode(err)
	r.sendTo(connID, types.Event{Type: types.EvtError, Data: types.ErrorData{
		Code:    code,
		Message: err.Error(),
	}})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return types.CodeRoomFull
	case errors.Is(err, ErrRoomClosed):
		return types.CodeRoomNotFound
	case errors.Is(err, ErrGameNotPlaying):
		return types.CodeGameNotPlaying
	case errors.Is(err, game.ErrNotYourTurn):
		return types.CodeNotYourTurn
	case errors.Is(err, game.ErrOutOfBounds), errors.Is(err, game.ErrCellOccupied):
		return types.CodeInvalidMove
	case errors.Is(err, ErrStaleUndo):
		return types.CodeStaleUndo
	case errors.Is(err, ErrUndoNotAllowed):
		return types.CodeUndoNotAllowed
	case errors.Is(err, ErrIdentityConflict), errors.Is(err, ErrNotSeated):
		return types.CodeIdentityConflict
	default:
		return types.CodeBadRequest
	}
}

func (r *Room) sendTo(connID string, evt types.Event) {
	if ch, ok := r.conns[connID]; ok {
		if !r.send(ch, evt) {
			r.dropConn(connID)
		}
	}
}

func (r *Room) broadcast(evt types.Event) {
	r.broadcastExcept("", evt)
}

func (r *Room) broadcastExcept(skip string, evt types.Event) {
	for id, ch := range r.conns {
		if id == skip {
			continue
		}
		if !r.send(ch, evt) {
			r.dropConn(id)
		}
	}
}

// send delivers without blocking; a full outbox means the client is too slow
// to keep.
func (r *Room) send(ch chan types.Event, evt types.Event) bool {
	select {
	case ch <- evt:
		return true
	default:
		return false
	}
}

func (r *Room) dropConn(connID string) {
	if ch, ok := r.conns[connID]; ok {
		close(ch)
		delete(r.conns, connID)
	}
	if slot := r.slotByConn(connID); slot != nil {
		slot.ConnID = ""
	}
	r.logger.Warn("dropped slow connection", zap.String("conn_id", connID))
}

func (r *Room) playerInfo(s *Slot) types.PlayerInfo {
	return types.PlayerInfo{
		Player:      s.Player,
		Identity:    s.Identity.String(),
		DisplayName: s.DisplayName,
		Connected:   s.ConnID != "",
	}
}

func (r *Room) playerInfos() []types.PlayerInfo {
	infos := make([]types.PlayerInfo, 0, 2)
	for _, s := range r.slots {
		if s != nil {
			infos = append(infos, r.playerInfo(s))
		}
	}
	return infos
}

func (r *Room) scoreData() types.Score {
	return types.Score{Player1: r.score[1], Player2: r.score[2]}
}

func (r *Room) view() View {
	v := View{
		ID:            r.id,
		Code:          r.code,
		BoardSize:     r.boardSize,
		Status:        r.status,
		Players:       r.playerInfos(),
		CurrentPlayer: r.state.Current,
		MoveCount:     r.state.MoveCount(),
		Score:         r.scoreData(),
		NumConns:      len(r.conns),
	}
	if r.pendingUndo != nil {
		p := *r.pendingUndo
		v.PendingUndo = &p
	}
	return v
}
