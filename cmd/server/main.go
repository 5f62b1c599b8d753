package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ducthai1/caro-hopee-sub000/internal/config"
	"github.com/ducthai1/caro-hopee-sub000/internal/httpapi"
	"github.com/ducthai1/caro-hopee-sub000/internal/hub"
	"github.com/ducthai1/caro-hopee-sub000/internal/referee"
	"github.com/ducthai1/caro-hopee-sub000/internal/room"
	"github.com/ducthai1/caro-hopee-sub000/internal/scorecard"
	"github.com/ducthai1/caro-hopee-sub000/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mirror room.Mirror
	var st *store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("open store", zap.Error(err))
		}
		defer st.Close()
		mirror = st
	}

	ref := referee.FiveInARow{}
	h := hub.New(ctx, ref, mirror, logger)

	if st != nil {
		rehydrate(ctx, h, st, mirror, logger)
	}

	scores := scorecard.NewTracker()
	handler := httpapi.SetupRoutes(h, scores, logger, cfg.DefaultBoard, cfg.AllowedOrigins)
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		h.RunSweeper(gctx, cfg.SweepInterval, cfg.RoomIdleTimeout)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("bye")
}

// rehydrate reloads rooms that were still live when the process last exited.
// Every connection starts unbound; seated identities pick their games back up
// by reconnecting.
func rehydrate(ctx context.Context, h *hub.Hub, st *store.Store, mirror room.Mirror, logger *zap.Logger) {
	snaps, err := st.LoadActive()
	if err != nil {
		logger.Warn("rehydrate: load snapshots", zap.Error(err))
		return
	}

	restored := 0
	for _, snap := range snaps {
		rm, err := room.Restore(ctx, snap, referee.FiveInARow{}, mirror, logger)
		if err != nil {
			logger.Warn("rehydrate: skipping snapshot", zap.String("room_id", snap.ID), zap.Error(err))
			continue
		}
		reply := make(chan bool, 1)
		h.Inbox() <- hub.AddRoom{Room: rm, Reply: reply}
		if <-reply {
			restored++
		}
	}
	logger.Info("rehydrated rooms", zap.Int("count", restored))
}
