package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ducthai1/caro-hopee-sub000/pkg/types"
)

// RoomSnapshotModel mirrors one room as a JSON blob. In-memory state is the
// source of truth during gameplay; rows here only matter for rehydration
// after a restart.
type RoomSnapshotModel struct {
	ID        string `gorm:"primaryKey"`
	Code      string `gorm:"index"`
	Status    string `gorm:"index"`
	Data      []byte
	UpdatedAt time.Time
}

func (RoomSnapshotModel) TableName() string { return "room_snapshots" }

type job struct {
	snap   *types.RoomSnapshot
	delete string
}

// Store is the best-effort persistence mirror. Save and Delete enqueue work
// for a single writer goroutine and never block the caller; a full queue
// drops the write and logs, since the next room mutation re-enqueues a fresh
// snapshot anyway.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	queue  chan job
	wg     sync.WaitGroup
}

func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&RoomSnapshotModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		queue:  make(chan job, 256),
	}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

func (s *Store) Save(snap types.RoomSnapshot) {
	select {
	case s.queue <- job{snap: &snap}:
	default:
		s.logger.Warn("snapshot queue full, dropping write", zap.String("room_id", snap.ID))
	}
}

func (s *Store) Delete(id string) {
	select {
	case s.queue <- job{delete: id}:
	default:
		s.logger.Warn("snapshot queue full, dropping delete", zap.String("room_id", id))
	}
}

// Close drains pending writes and stops the worker.
func (s *Store) Close() {
	close(s.queue)
	s.wg.Wait()
}

func (s *Store) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		if j.delete != "" {
			if err := s.db.Delete(&RoomSnapshotModel{}, "id = ?", j.delete).Error; err != nil {
				s.logger.Warn("delete snapshot", zap.String("room_id", j.delete), zap.Error(err))
			}
			continue
		}

		model, err := encodeSnapshot(j.snap)
		if err != nil {
			s.logger.Warn("marshal snapshot", zap.String("room_id", j.snap.ID), zap.Error(err))
			continue
		}
		err = s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"code", "status", "data", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			s.logger.Warn("save snapshot", zap.String("room_id", j.snap.ID), zap.Error(err))
		}
	}
}

// LoadActive returns snapshots of rooms worth rehydrating: anything that was
// still waiting or playing when last mirrored.
func (s *Store) LoadActive() ([]types.RoomSnapshot, error) {
	var models []RoomSnapshotModel
	if err := s.db.Where("status IN ?", []string{"waiting", "playing"}).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	snaps := make([]types.RoomSnapshot, 0, len(models))
	for _, m := range models {
		snap, err := decodeSnapshot(m)
		if err != nil {
			s.logger.Warn("skipping corrupt snapshot", zap.String("room_id", m.ID), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func encodeSnapshot(snap *types.RoomSnapshot) (RoomSnapshotModel, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return RoomSnapshotModel{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return RoomSnapshotModel{
		ID:        snap.ID,
		Code:      snap.Code,
		Status:    snap.Status,
		Data:      data,
		UpdatedAt: time.Now(),
	}, nil
}

func decodeSnapshot(m RoomSnapshotModel) (types.RoomSnapshot, error) {
	var snap types.RoomSnapshot
	if err := json.Unmarshal(m.Data, &snap); err != nil {
		return types.RoomSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
