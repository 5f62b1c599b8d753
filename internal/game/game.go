package game

import (
	"errors"
	"fmt"
)

var ErrNotYourTurn = errors.New("not your turn")
var ErrOutOfBounds = errors.New("cell out of bounds")
var ErrCellOccupied = errors.New("cell occupied")
var ErrNoMoves = errors.New("no moves to revert")

const (
	Empty = 0
	P1    = 1
	P2    = 2
)

// Move is one accepted placement. Number starts at 1 and increments with
// every accepted move.
type Move struct {
	Number int
	Player int
	Row    int
	Col    int
}

// State is the turn state machine for one board. It is a plain value with no
// locking: the owning room serializes all access.
type State struct {
	Size    int
	Cells   []int // row-major
	Current int   // 1 or 2; meaningful only while the room is playing
	Moves   []Move
}

func NewState(size int) *State {
	return &State{
		Size:    size,
		Cells:   make([]int, size*size),
		Current: P1,
	}
}

// Apply validates and applies a placement by player at (row, col). On success
// the cell is marked, the move counter advances and the turn flips. On
// failure the state is unchanged and the returned error identifies which
// precondition failed.
func (s *State) Apply(player, row, col int) (Move, error) {
	if player != s.Current {
		return Move{}, ErrNotYourTurn
	}
	if row < 0 || row >= s.Size || col < 0 || col >= s.Size {
		return Move{}, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, row, col)
	}
	idx := row*s.Size + col
	if s.Cells[idx] != Empty {
		return Move{}, fmt.Errorf("%w: (%d,%d)", ErrCellOccupied, row, col)
	}

	mv := Move{Number: len(s.Moves) + 1, Player: player, Row: row, Col: col}
	s.Cells[idx] = player
	s.Moves = append(s.Moves, mv)
	s.Current = Opponent(player)
	return mv, nil
}

// RevertLast undoes the most recent move: the cell returns to empty, the move
// counter drops by one, and the turn returns to the player who made the
// undone move.
func (s *State) RevertLast() (Move, error) {
	if len(s.Moves) == 0 {
		return Move{}, ErrNoMoves
	}
	mv := s.Moves[len(s.Moves)-1]
	s.Cells[mv.Row*s.Size+mv.Col] = Empty
	s.Moves = s.Moves[:len(s.Moves)-1]
	s.Current = mv.Player
	return mv, nil
}

func (s *State) MoveCount() int { return len(s.Moves) }

// LastMove returns the most recent move, if any.
func (s *State) LastMove() (Move, bool) {
	if len(s.Moves) == 0 {
		return Move{}, false
	}
	return s.Moves[len(s.Moves)-1], true
}

func (s *State) Full() bool {
	return len(s.Moves) == s.Size*s.Size
}

// Grid renders the cells as rows for wire payloads.
func (s *State) Grid() [][]int {
	grid := make([][]int, s.Size)
	for r := 0; r < s.Size; r++ {
		row := make([]int, s.Size)
		copy(row, s.Cells[r*s.Size:(r+1)*s.Size])
		grid[r] = row
	}
	return grid
}

// Reset clears the board and move history for a new game.
func (s *State) Reset() {
	for i := range s.Cells {
		s.Cells[i] = Empty
	}
	s.Moves = s.Moves[:0]
	s.Current = P1
}

func Opponent(player int) int {
	if player == P1 {
		return P2
	}
	return P1
}

// Result is a referee verdict. Winner 0 means a draw.
type Result struct {
	Winner int
}

// Referee decides whether the game ended after an accepted move. Win
// heuristics live outside the coordinator; the room invokes the referee after
// every accepted move and finishes the game atomically when it reports done.
type Referee interface {
	Judge(s *State, last Move) (Result, bool)
}
