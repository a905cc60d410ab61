package diff

import "github.com/capitalize-ai/agentreplay/internal/model"

// Alignment costs. A substitution of two different types costs less than
// deleting one event and inserting the other, so positional pairing is still
// preferred when nothing better matches.
const (
	costExact    = 0
	costIdentity = 2
	costType     = 3
	costGap      = 2
)

// Traceback moves. A deletion consumes an event of A only, an insertion an
// event of B only.
const (
	moveDiagonal = iota
	moveDeletion
	moveInsertion
)

// exact reports whether x and y agree on type and identity key.
func exact(x, y model.Event) bool {
	if x.Type != y.Type {
		return false
	}
	kx, ok := x.IdentityKey()
	if !ok {
		return true
	}
	ky, _ := y.IdentityKey()
	return kx == ky
}

func pairCost(x, y model.Event) int {
	switch {
	case x.Type != y.Type:
		return costType
	case exact(x, y):
		return costExact
	default:
		return costIdentity
	}
}

type cell struct {
	cost    int
	matches int
	move    int
}

// better orders candidate cells: lower cost, then more exact matches. Equal
// candidates keep the earlier one, which gives the fixed preference of
// diagonal over deletion over insertion.
func (c cell) better(o cell) bool {
	if c.cost != o.cost {
		return c.cost < o.cost
	}
	return c.matches > o.matches
}

// align computes a minimum-cost global alignment of a and b.
func align(a, b []model.Step) []Row {
	n, m := len(a), len(b)
	width := m + 1
	grid := make([]cell, (n+1)*width)
	at := func(i, j int) *cell { return &grid[i*width+j] }

	for i := 1; i <= n; i++ {
		*at(i, 0) = cell{cost: i * costGap, move: moveDeletion}
	}
	for j := 1; j <= m; j++ {
		*at(0, j) = cell{cost: j * costGap, move: moveInsertion}
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			x, y := a[i-1].Event, b[j-1].Event

			diag := *at(i-1, j-1)
			best := cell{cost: diag.cost + pairCost(x, y), matches: diag.matches, move: moveDiagonal}
			if exact(x, y) {
				best.matches++
			}

			up := *at(i-1, j)
			if c := (cell{cost: up.cost + costGap, matches: up.matches, move: moveDeletion}); c.better(best) {
				best = c
			}
			left := *at(i, j-1)
			if c := (cell{cost: left.cost + costGap, matches: left.matches, move: moveInsertion}); c.better(best) {
				best = c
			}
			*at(i, j) = best
		}
	}

	rows := make([]Row, 0, max(n, m))
	for i, j := n, m; i > 0 || j > 0; {
		switch at(i, j).move {
		case moveDiagonal:
			rows = append(rows, Row{A: &a[i-1], B: &b[j-1]})
			i--
			j--
		case moveDeletion:
			rows = append(rows, Row{A: &a[i-1]})
			i--
		default:
			rows = append(rows, Row{B: &b[j-1]})
			j--
		}
	}
	for l, r := 0, len(rows)-1; l < r; l, r = l+1, r-1 {
		rows[l], rows[r] = rows[r], rows[l]
	}
	return rows
}
