package types

// Command is the client -> server envelope carried over the websocket.
// Fields beyond Type are only meaningful for the command types that use them.
type Command struct {
	Type       string `json:"type"`
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	MoveNumber int    `json:"move_number,omitempty"`
}

const (
	CmdStartGame   = "start-game"
	CmdMakeMove    = "make-move"
	CmdRequestUndo = "request-undo"
	CmdApproveUndo = "approve-undo"
	CmdRejectUndo  = "reject-undo"
	CmdLeaveRoom   = "leave-room"
	CmdSurrender   = "surrender"
	CmdNewGame     = "new-game"
)

// Event is the server -> client envelope. Data holds one of the payload
// structs below depending on Type.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	EvtRoomJoined    = "room-joined"
	EvtPlayerJoined  = "player-joined"
	EvtPlayerLeft    = "player-left"
	EvtMoveMade      = "move-made"
	EvtGameStarted   = "game-started"
	EvtGameFinished  = "game-finished"
	EvtScoreUpdated  = "score-updated"
	EvtUndoRequested = "undo-requested"
	EvtUndoApproved  = "undo-approved"
	EvtUndoRejected  = "undo-rejected"
	EvtSuperseded    = "superseded"
	EvtError         = "error"
)

// Error codes relayed to the offending connection. None of these terminate
// the room; room state is untouched when one is emitted.
const (
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeRoomFull         = "ROOM_FULL"
	CodeInvalidMove      = "INVALID_MOVE"
	CodeNotYourTurn      = "NOT_YOUR_TURN"
	CodeGameNotPlaying   = "GAME_NOT_PLAYING"
	CodeStaleUndo        = "STALE_UNDO"
	CodeUndoNotAllowed   = "UNDO_NOT_ALLOWED"
	CodeIdentityConflict = "IDENTITY_CONFLICT"
	CodeBadRequest       = "BAD_REQUEST"
)

type PlayerInfo struct {
	Player      int    `json:"player"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Connected   bool   `json:"connected"`
}

type Score struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

type RoomJoinedData struct {
	RoomID        string       `json:"room_id"`
	Code          string       `json:"code"`
	You           int          `json:"you"`
	Players       []PlayerInfo `json:"players"`
	Status        string       `json:"status"`
	CurrentPlayer int          `json:"current_player"`
	Board         [][]int      `json:"board"`
	MoveNumber    int          `json:"move_number"`
	Score         Score        `json:"score"`
}

type PlayerJoinedData struct {
	Player PlayerInfo `json:"player"`
}

type PlayerLeftData struct {
	Player   int    `json:"player"`
	Identity string `json:"identity"`
}

type MoveMadeData struct {
	Row           int     `json:"row"`
	Col           int     `json:"col"`
	Player        int     `json:"player"`
	MoveNumber    int     `json:"move_number"`
	Board         [][]int `json:"board"`
	CurrentPlayer int     `json:"current_player"`
}

type GameStartedData struct {
	CurrentPlayer int `json:"current_player"`
}

// GameFinishedData reports the end of a game. Winner 0 means a draw.
type GameFinishedData struct {
	Winner int    `json:"winner"`
	Reason string `json:"reason"`
}

type ScoreUpdatedData struct {
	Score Score `json:"score"`
}

type UndoRequestedData struct {
	MoveNumber  int `json:"move_number"`
	RequestedBy int `json:"requested_by"`
}

type UndoApprovedData struct {
	MoveNumber    int     `json:"move_number"`
	Board         [][]int `json:"board"`
	CurrentPlayer int     `json:"current_player"`
}

type UndoRejectedData struct {
	MoveNumber int `json:"move_number"`
}

type SupersededData struct {
	Reason string `json:"reason"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
