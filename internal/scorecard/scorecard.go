package scorecard

import (
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("scorecard not found")
var ErrNoPoints = errors.New("round has no points")

// Round is one finished round of a multi-round card game: points per player
// name, as agreed by the players. Settlement of who owes whom is left to the
// clients.
type Round struct {
	Number     int            `json:"number"`
	Points     map[string]int `json:"points"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Sheet is the running scorecard for one table.
type Sheet struct {
	Key    string         `json:"key"`
	Rounds []Round        `json:"rounds"`
	Totals map[string]int `json:"totals"`
}

// Tracker keeps scorecards in memory, keyed by an arbitrary client-chosen
// table key. Unlike game rooms, scorecards have no turn discipline, so a
// plain RWMutex is enough.
type Tracker struct {
	mu     sync.RWMutex
	sheets map[string]*Sheet
}

func NewTracker() *Tracker {
	return &Tracker{sheets: make(map[string]*Sheet)}
}

// AddRound appends a round to the table's sheet, creating the sheet on first
// use, and returns the recorded round.
func (t *Tracker) AddRound(key string, points map[string]int) (Round, error) {
	if len(points) == 0 {
		return Round{}, ErrNoPoints
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sheet, ok := t.sheets[key]
	if !ok {
		sheet = &Sheet{Key: key, Totals: make(map[string]int)}
		t.sheets[key] = sheet
	}

	round := Round{
		Number:     len(sheet.Rounds) + 1,
		Points:     points,
		RecordedAt: time.Now(),
	}
	sheet.Rounds = append(sheet.Rounds, round)
	for player, pts := range points {
		sheet.Totals[player] += pts
	}
	return round, nil
}

// Get returns a copy of the sheet for key.
func (t *Tracker) Get(key string) (Sheet, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sheet, ok := t.sheets[key]
	if !ok {
		return Sheet{}, ErrNotFound
	}

	out := Sheet{
		Key:    sheet.Key,
		Rounds: append([]Round(nil), sheet.Rounds...),
		Totals: make(map[string]int, len(sheet.Totals)),
	}
	for player, pts := range sheet.Totals {
		out.Totals[player] = pts
	}
	return out, nil
}
