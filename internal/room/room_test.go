package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ducthai1/caro-hopee-sub000/internal/game"
	"github.com/ducthai1/caro-hopee-sub000/pkg/types"
)

type refereeFunc func(*game.State, game.Move) (game.Result, bool)

func (f refereeFunc) Judge(s *game.State, last game.Move) (game.Result, bool) { return f(s, last) }

// neverDone keeps games running so tests control the lifecycle explicitly.
var neverDone = refereeFunc(func(*game.State, game.Move) (game.Result, bool) {
	return game.Result{}, false
})

func newTestRoom(t *testing.T, ref game.Referee) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "room-1", "ABC123", 15, ref, nil, zap.NewNop())
}

func recvEvent(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return types.Event{}
	}
}

func requireEvent(t *testing.T, ch <-chan types.Event, evtType string) types.Event {
	t.Helper()
	evt := recvEvent(t, ch)
	require.Equal(t, evtType, evt.Type)
	return evt
}

func requireErrorCode(t *testing.T, ch <-chan types.Event, code string) {
	t.Helper()
	evt := requireEvent(t, ch, types.EvtError)
	data, ok := evt.Data.(types.ErrorData)
	require.True(t, ok, "error event carries ErrorData")
	require.Equal(t, code, data.Code)
}

func join(t *testing.T, r *Room, connID, identity, name string) (chan types.Event, int) {
	t.Helper()
	id, err := ParseIdentity(identity)
	require.NoError(t, err)

	out := make(chan types.Event, 32)
	reply := make(chan JoinReply, 1)
	r.Inbox() <- Join{ConnID: connID, Identity: id, DisplayName: name, Outbox: out, Reply: reply}

	select {
	case jr := <-reply:
		require.NoError(t, jr.Err)
		requireEvent(t, out, types.EvtRoomJoined)
		return out, jr.Player
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for join reply")
		return nil, 0
	}
}

func joinErr(t *testing.T, r *Room, connID, identity string) error {
	t.Helper()
	id, err := ParseIdentity(identity)
	require.NoError(t, err)

	out := make(chan types.Event, 4)
	reply := make(chan JoinReply, 1)
	r.Inbox() <- Join{ConnID: connID, Identity: id, Outbox: out, Reply: reply}

	select {
	case jr := <-reply:
		return jr.Err
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for join reply")
		return nil
	}
}

func getView(t *testing.T, r *Room) View {
	t.Helper()
	reply := make(chan View, 1)
	r.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func cmd(r *Room, connID string, c types.Command) {
	r.Inbox() <- FromClient{ConnID: connID, Cmd: c}
}

func TestJoin_AllocatesSlotsInOrder(t *testing.T) {
	r := newTestRoom(t, neverDone)

	_, p1 := join(t, r, "c1", "guest:alice", "Alice")
	require.Equal(t, 1, p1)

	outA, _ := join(t, r, "c1b", "guest:alice", "") // rejoin does not consume a seat
	require.NotNil(t, outA)

	_, p2 := join(t, r, "c2", "guest:bob", "Bob")
	require.Equal(t, 2, p2)

	require.ErrorIs(t, joinErr(t, r, "c3", "guest:carol"), ErrRoomFull)
}

func TestJoin_SameIdentityRebindsSameSlot(t *testing.T) {
	r := newTestRoom(t, neverDone)

	oldOut, p := join(t, r, "c1", "guest:alice", "Alice")
	require.Equal(t, 1, p)

	_, p2 := join(t, r, "c9", "guest:alice", "Alice")
	require.Equal(t, p, p2)

	// The stale transport is told it was superseded, then its outbox closes.
	evt := requireEvent(t, oldOut, types.EvtSuperseded)
	_, ok := evt.Data.(types.SupersededData)
	require.True(t, ok)
	if _, open := <-oldOut; open {
		t.Fatalf("superseded outbox should be closed")
	}
}

func TestJoin_GuestUpgradesToAccountKeepsOpponentSeat(t *testing.T) {
	// A guest and an account are distinct identities: a full room rejects the
	// account even if the same human is behind both.
	r := newTestRoom(t, neverDone)
	join(t, r, "c1", "guest:alice", "Alice")
	join(t, r, "c2", "guest:bob", "Bob")

	require.ErrorIs(t, joinErr(t, r, "c3", "account:alice"), ErrRoomFull)
}

func TestStart_RequiresBothSeats(t *testing.T) {
	r := newTestRoom(t, neverDone)
	outA, _ := join(t, r, "c1", "guest:alice", "Alice")

	cmd(r, "c1", types.Command{Type: types.CmdStartGame})
	requireErrorCode(t, outA, types.CodeBadRequest)

	v := getView(t, r)
	require.Equal(t, StatusWaiting, v.Status)
}

func startedRoom(t *testing.T, ref game.Referee) (*Room, chan types.Event, chan types.Event) {
	t.Helper()
	r := newTestRoom(t, ref)
	outA, _ := join(t, r, "c1", "guest:alice", "Alice")
	outB, _ := join(t, r, "c2", "guest:bob", "Bob")
	requireEvent(t, outA, types.EvtPlayerJoined)

	cmd(r, "c1", types.Command{Type: types.CmdStartGame})
	requireEvent(t, outA, types.EvtGameStarted)
	requireEvent(t, outB, types.EvtGameStarted)
	return r, outA, outB
}

func TestMove_HappyPathFlipsTurn(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	evt := requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)

	data := evt.Data.(types.MoveMadeData)
	require.Equal(t, 1, data.Player)
	require.Equal(t, 1, data.MoveNumber)
	require.Equal(t, 2, data.CurrentPlayer)
	require.Equal(t, 1, data.Board[7][7])
}

func TestMove_Rejections(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	// Not B's turn.
	cmd(r, "c2", types.Command{Type: types.CmdMakeMove, Row: 0, Col: 0})
	requireErrorCode(t, outB, types.CodeNotYourTurn)

	// Occupied cell.
	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)
	cmd(r, "c2", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireErrorCode(t, outB, types.CodeInvalidMove)

	// Out of bounds.
	cmd(r, "c2", types.Command{Type: types.CmdMakeMove, Row: 99, Col: 0})
	requireErrorCode(t, outB, types.CodeInvalidMove)

	v := getView(t, r)
	require.Equal(t, 1, v.MoveCount, "rejected moves must not change the board")
	require.Equal(t, 2, v.CurrentPlayer)
}

func TestMove_BeforeStartIsGameNotPlaying(t *testing.T) {
	r := newTestRoom(t, neverDone)
	outA, _ := join(t, r, "c1", "guest:alice", "Alice")

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 0, Col: 0})
	requireErrorCode(t, outA, types.CodeGameNotPlaying)
}

func TestUndo_FullScenario(t *testing.T) {
	// A moves (7,7); only the opponent may request the undo, and only the
	// mover may approve it.
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)

	// A requesting the undo of A's own move is not allowed.
	cmd(r, "c1", types.Command{Type: types.CmdRequestUndo, MoveNumber: 1})
	requireErrorCode(t, outA, types.CodeUndoNotAllowed)

	// B requests, both are notified.
	cmd(r, "c2", types.Command{Type: types.CmdRequestUndo, MoveNumber: 1})
	requireEvent(t, outA, types.EvtUndoRequested)
	requireEvent(t, outB, types.EvtUndoRequested)

	// B approving their own request is not allowed.
	cmd(r, "c2", types.Command{Type: types.CmdApproveUndo, MoveNumber: 1})
	requireErrorCode(t, outB, types.CodeUndoNotAllowed)

	// A approves: board reverts, turn returns to A.
	cmd(r, "c1", types.Command{Type: types.CmdApproveUndo, MoveNumber: 1})
	evtA := requireEvent(t, outA, types.EvtUndoApproved)
	requireEvent(t, outB, types.EvtUndoApproved)

	data := evtA.Data.(types.UndoApprovedData)
	require.Equal(t, 0, data.Board[7][7])
	require.Equal(t, 1, data.CurrentPlayer)

	v := getView(t, r)
	require.Equal(t, 0, v.MoveCount)
	require.Nil(t, v.PendingUndo)
}

func TestUndo_FencedByInterveningMove(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)

	cmd(r, "c2", types.Command{Type: types.CmdRequestUndo, MoveNumber: 1})
	requireEvent(t, outA, types.EvtUndoRequested)
	requireEvent(t, outB, types.EvtUndoRequested)

	// B moves while their own request is outstanding: the request is cleared.
	cmd(r, "c2", types.Command{Type: types.CmdMakeMove, Row: 8, Col: 8})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)

	v := getView(t, r)
	require.Nil(t, v.PendingUndo, "accepted move must clear the pending request")

	// A stale approval is rejected and the board keeps the new move.
	cmd(r, "c1", types.Command{Type: types.CmdApproveUndo, MoveNumber: 1})
	requireErrorCode(t, outA, types.CodeStaleUndo)

	v = getView(t, r)
	require.Equal(t, 2, v.MoveCount)
}

func TestUndo_StaleMoveNumberOnRequest(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)
	cmd(r, "c2", types.Command{Type: types.CmdMakeMove, Row: 8, Col: 8})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)

	// Requesting undo of move 1 when move 2 exists is stale.
	cmd(r, "c1", types.Command{Type: types.CmdRequestUndo, MoveNumber: 1})
	requireErrorCode(t, outA, types.CodeStaleUndo)
}

func TestUndo_RejectClearsPending(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)

	cmd(r, "c2", types.Command{Type: types.CmdRequestUndo, MoveNumber: 1})
	requireEvent(t, outA, types.EvtUndoRequested)
	requireEvent(t, outB, types.EvtUndoRequested)

	cmd(r, "c1", types.Command{Type: types.CmdRejectUndo})
	requireEvent(t, outA, types.EvtUndoRejected)
	requireEvent(t, outB, types.EvtUndoRejected)

	v := getView(t, r)
	require.Nil(t, v.PendingUndo)
	require.Equal(t, 1, v.MoveCount, "reject must not change the board")
}

func TestFinish_WinUpdatesScoreAtomically(t *testing.T) {
	winOnFirst := refereeFunc(func(s *game.State, last game.Move) (game.Result, bool) {
		return game.Result{Winner: last.Player}, true
	})
	r, outA, outB := startedRoom(t, winOnFirst)

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireEvent(t, outA, types.EvtMoveMade)
	fin := requireEvent(t, outA, types.EvtGameFinished)
	score := requireEvent(t, outA, types.EvtScoreUpdated)
	requireEvent(t, outB, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtGameFinished)
	requireEvent(t, outB, types.EvtScoreUpdated)

	require.Equal(t, 1, fin.Data.(types.GameFinishedData).Winner)
	require.Equal(t, types.Score{Player1: 1, Player2: 0}, score.Data.(types.ScoreUpdatedData).Score)

	v := getView(t, r)
	require.Equal(t, StatusFinished, v.Status)
}

func TestSurrender_OpponentWins(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdSurrender})
	fin := requireEvent(t, outA, types.EvtGameFinished)
	requireEvent(t, outA, types.EvtScoreUpdated)
	requireEvent(t, outB, types.EvtGameFinished)
	requireEvent(t, outB, types.EvtScoreUpdated)

	data := fin.Data.(types.GameFinishedData)
	require.Equal(t, 2, data.Winner)
	require.Equal(t, "surrender", data.Reason)

	v := getView(t, r)
	require.Equal(t, types.Score{Player1: 0, Player2: 1}, v.Score)
}

func TestNewGame_ResetsBoardKeepsScore(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdSurrender})
	requireEvent(t, outA, types.EvtGameFinished)
	requireEvent(t, outA, types.EvtScoreUpdated)
	requireEvent(t, outB, types.EvtGameFinished)
	requireEvent(t, outB, types.EvtScoreUpdated)

	cmd(r, "c1", types.Command{Type: types.CmdNewGame})
	requireEvent(t, outA, types.EvtGameStarted)
	requireEvent(t, outB, types.EvtGameStarted)

	v := getView(t, r)
	require.Equal(t, StatusPlaying, v.Status)
	require.Equal(t, 0, v.MoveCount)
	require.Equal(t, 1, v.CurrentPlayer)
	require.Equal(t, types.Score{Player1: 0, Player2: 1}, v.Score, "cumulative score survives new-game")
}

func TestLeave_UnbindsSeatButKeepsIt(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	r.Inbox() <- Leave{ConnID: "c2"}
	left := requireEvent(t, outA, types.EvtPlayerLeft)
	require.Equal(t, 2, left.Data.(types.PlayerLeftData).Player)
	if _, open := <-outB; open {
		t.Fatalf("leaver's outbox should be closed")
	}

	// The game keeps running and the same identity reconnects into seat 2.
	_, p := join(t, r, "c2b", "guest:bob", "Bob")
	require.Equal(t, 2, p)

	v := getView(t, r)
	require.Equal(t, StatusPlaying, v.Status)
}

func TestCheckIdle_AbandonsUnboundRoom(t *testing.T) {
	r, _, _ := startedRoom(t, neverDone)

	r.Inbox() <- Leave{ConnID: "c1"}
	r.Inbox() <- Leave{ConnID: "c2"}

	time.Sleep(5 * time.Millisecond)

	reply := make(chan bool, 1)
	r.Inbox() <- CheckIdle{IdleAfter: time.Millisecond, Reply: reply}
	select {
	case idle := <-reply:
		require.True(t, idle)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for idle reply")
	}

	v := getView(t, r)
	require.Equal(t, StatusAbandoned, v.Status)
}

func TestCheckIdle_BoundConnKeepsRoomAlive(t *testing.T) {
	r, _, _ := startedRoom(t, neverDone)

	reply := make(chan bool, 1)
	r.Inbox() <- CheckIdle{IdleAfter: 0, Reply: reply}
	select {
	case idle := <-reply:
		require.False(t, idle)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for idle reply")
	}
}

func TestSerialize_RoundTripsThroughRestore(t *testing.T) {
	r, outA, outB := startedRoom(t, neverDone)

	cmd(r, "c1", types.Command{Type: types.CmdMakeMove, Row: 7, Col: 7})
	requireEvent(t, outA, types.EvtMoveMade)
	requireEvent(t, outB, types.EvtMoveMade)

	reply := make(chan types.RoomSnapshot, 1)
	r.Inbox() <- Serialize{Reply: reply}
	snap := <-reply

	require.Equal(t, "room-1", snap.ID)
	require.Equal(t, "playing", snap.Status)
	require.Len(t, snap.Slots, 2)
	require.Equal(t, 1, snap.Cells[7*15+7])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	restored, err := Restore(ctx, snap, neverDone, nil, zap.NewNop())
	require.NoError(t, err)

	// Identities survive, connections do not: bob reconnects into seat 2 and
	// continues the same game.
	_, p := join(t, restored, "c2b", "guest:bob", "Bob")
	require.Equal(t, 2, p)

	v := getView(t, restored)
	require.Equal(t, StatusPlaying, v.Status)
	require.Equal(t, 1, v.MoveCount)
	require.Equal(t, 2, v.CurrentPlayer)
}

func TestJoin_AfterShutdownIsAnswered(t *testing.T) {
	r := newTestRoom(t, neverDone)

	// Park the actor on an unbuffered reply so the shutdown and the join
	// queue up behind it in order.
	parked := make(chan bool)
	r.Inbox() <- CheckIdle{IdleAfter: time.Hour, Reply: parked}
	r.Inbox() <- Shutdown{}

	id, err := ParseIdentity("guest:alice")
	require.NoError(t, err)
	out := make(chan types.Event, 4)
	reply := make(chan JoinReply, 1)
	r.Inbox() <- Join{ConnID: "c1", Identity: id, Outbox: out, Reply: reply}

	<-parked

	select {
	case jr := <-reply:
		require.ErrorIs(t, jr.Err, ErrRoomClosed)
	case <-time.After(time.Second):
		t.Fatalf("join was never answered after shutdown")
	}
}

func TestJoin_SupersedeDropLoggedWhenStaleOutboxFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := New(ctx, "room-1", "ABC123", 15, neverDone, nil, zap.New(core))

	id, err := ParseIdentity("guest:alice")
	require.NoError(t, err)

	// The room-joined event fills this outbox, leaving no room for the
	// superseded notice when alice reconnects.
	stale := make(chan types.Event, 1)
	reply := make(chan JoinReply, 1)
	r.Inbox() <- Join{ConnID: "c1", Identity: id, Outbox: stale, Reply: reply}
	select {
	case jr := <-reply:
		require.NoError(t, jr.Err)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for join reply")
	}

	fresh, player := join(t, r, "c2", "guest:alice", "")
	require.Equal(t, 1, player)
	require.NotNil(t, fresh)

	requireEvent(t, stale, types.EvtRoomJoined)
	_, open := <-stale
	require.False(t, open, "stale outbox must be closed even when the notice did not fit")
	require.Equal(t, 1, logs.FilterMessage("superseded notice dropped, stale outbox full").Len())
}

func TestUnseatedConnGetsIdentityConflict(t *testing.T) {
	r := newTestRoom(t, neverDone)
	join(t, r, "c1", "guest:alice", "Alice")

	// A connection that never joined has no outbox; the room must not panic
	// and room state must be untouched.
	cmd(r, "ghost", types.Command{Type: types.CmdMakeMove, Row: 0, Col: 0})

	v := getView(t, r)
	require.Equal(t, StatusWaiting, v.Status)
	require.Equal(t, 0, v.MoveCount)
}
