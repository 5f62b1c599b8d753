package referee

import "github.com/ducthai1/caro-hopee-sub000/internal/game"

// FiveInARow is the default caro referee: a game ends when the last move
// completes a run of five or more equal marks, or when the board fills.
type FiveInARow struct{}

var directions = [4][2]int{
	{0, 1},  // horizontal
	{1, 0},  // vertical
	{1, 1},  // diagonal
	{1, -1}, // anti-diagonal
}

func (FiveInARow) Judge(s *game.State, last game.Move) (game.Result, bool) {
	for _, d := range directions {
		run := 1
		run += count(s, last, d[0], d[1])
		run += count(s, last, -d[0], -d[1])
		if run >= 5 {
			return game.Result{Winner: last.Player}, true
		}
	}
	if s.Full() {
		return game.Result{}, true // draw
	}
	return game.Result{}, false
}

func count(s *game.State, from game.Move, dr, dc int) int {
	n := 0
	r, c := from.Row+dr, from.Col+dc
	for r >= 0 && r < s.Size && c >= 0 && c < s.Size && s.Cells[r*s.Size+c] == from.Player {
		n++
		r += dr
		c += dc
	}
	return n
}
