package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ducthai1/caro-hopee-sub000/internal/hub"
	"github.com/ducthai1/caro-hopee-sub000/internal/room"
	"github.com/ducthai1/caro-hopee-sub000/internal/scorecard"
	"github.com/ducthai1/caro-hopee-sub000/pkg/types"
)

const viewTimeout = 2 * time.Second

type API struct {
	hub          *hub.Hub
	scores       *scorecard.Tracker
	logger       *zap.Logger
	defaultBoard int
}

type roomResponse struct {
	ID            string             `json:"id"`
	Code          string             `json:"code"`
	BoardSize     int                `json:"board_size"`
	Status        string             `json:"status"`
	Players       []types.PlayerInfo `json:"players"`
	CurrentPlayer int                `json:"current_player"`
	MoveCount     int                `json:"move_count"`
	Score         types.Score        `json:"score"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BoardSize int `json:"board_size"`
	}
	// An empty body means defaults; anything else must be valid JSON.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}
	if req.BoardSize == 0 {
		req.BoardSize = a.defaultBoard
	}
	if req.BoardSize < 3 || req.BoardSize > 32 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "board_size out of range"})
		return
	}

	reply := make(chan *room.Room, 1)
	a.hub.Inbox() <- hub.CreateRoom{BoardSize: req.BoardSize, Reply: reply}
	rm := <-reply
	if rm == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create room"})
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}{ID: rm.ID(), Code: rm.Code()})
}

// GetRoom serves the pre-join lookup: a client can check by id or code
// whether joining is possible before opening a websocket.
func (a *API) GetRoom(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	reply := make(chan *room.Room, 1)
	a.hub.Inbox() <- hub.GetRoom{Key: key, Reply: reply}
	rm := <-reply
	if rm == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "room not found"})
		return
	}

	v, ok := fetchView(rm)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "room unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, toRoomResponse(v))
}

func (a *API) ListWaiting(w http.ResponseWriter, r *http.Request) {
	reply := make(chan []*room.Room, 1)
	a.hub.Inbox() <- hub.ListRooms{Reply: reply}
	rooms := <-reply

	waiting := make([]roomResponse, 0)
	for _, rm := range rooms {
		if v, ok := fetchView(rm); ok && v.Status == room.StatusWaiting {
			waiting = append(waiting, toRoomResponse(v))
		}
	}
	writeJSON(w, http.StatusOK, waiting)
}

func (a *API) AddScoreRound(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Points map[string]int `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}

	round, err := a.scores.AddRound(key, req.Points)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, round)
}

func (a *API) GetScorecard(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	sheet, err := a.scores.Get(key)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "scorecard not found"})
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func fetchView(rm *room.Room) (room.View, bool) {
	reply := make(chan room.View, 1)
	rm.Inbox() <- room.GetState{Reply: reply}
	select {
	case v := <-reply:
		return v, true
	case <-time.After(viewTimeout):
		return room.View{}, false
	}
}

func toRoomResponse(v room.View) roomResponse {
	return roomResponse{
		ID:            v.ID,
		Code:          v.Code,
		BoardSize:     v.BoardSize,
		Status:        string(v.Status),
		Players:       v.Players,
		CurrentPlayer: v.CurrentPlayer,
		MoveCount:     v.MoveCount,
		Score:         v.Score,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
