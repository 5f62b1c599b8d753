package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ducthai1/caro-hopee-sub000/internal/hub"
	"github.com/ducthai1/caro-hopee-sub000/internal/scorecard"
	"github.com/ducthai1/caro-hopee-sub000/internal/ws"
)

func SetupRoutes(h *hub.Hub, scores *scorecard.Tracker, logger *zap.Logger, defaultBoard int, originPatterns []string) http.Handler {
	api := &API{hub: h, scores: scores, logger: logger, defaultBoard: defaultBoard}

	r := chi.NewRouter()
	r.Post("/rooms", api.CreateRoom)
	r.Get("/rooms", api.ListWaiting)
	r.Get("/rooms/{key}", api.GetRoom)
	r.Post("/scorecards/{key}/rounds", api.AddScoreRound)
	r.Get("/scorecards/{key}", api.GetScorecard)
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, logger, originPatterns))
	return r
}
