package tiler

import "image"

// Tiles within this many tiles of an unflagged tile keep their pixels
const landRadius = 2

// TileMask is one bit per tile of a Grid.
type TileMask struct {
	cols, rows int
	bits       []bool
}

// NewTileMask returns an empty mask covering g.
func NewTileMask(g Grid) *TileMask {
	return &TileMask{
		cols: g.Cols,
		rows: g.Rows,
		bits: make([]bool, g.Count()),
	}
}

// Set marks a tile.
func (t *TileMask) Set(col, row int) {
	t.bits[row*t.cols+col] = true
}

// Has reports whether a tile is marked. Tiles outside the mask never are.
func (t *TileMask) Has(col, row int) bool {
	if col < 0 || col >= t.cols || row < 0 || row >= t.rows {
		return false
	}
	return t.bits[row*t.cols+col]
}

// Count returns the number of marked tiles.
func (t *TileMask) Count() int {
	var n int
	for _, b := range t.bits {
		if b {
			n++
		}
	}
	return n
}

// DetectLandTiles decides which of the tiles flagged as all land can be
// replaced by the land-only placeholder. A flagged tile is only elided if
// every tile within landRadius of it that lies inside the grid is flagged as
// well, so tiles near a shoreline keep their detail. Origins that don't name
// a tile of the grid are counted in ignored and never elided.
func (g Grid) DetectLandTiles(origins []image.Point) (elided *TileMask, ignored int) {
	flagged := NewTileMask(g)
	for _, p := range origins {
		col, row, ok := g.Tile(p)
		if !ok {
			ignored++
			continue
		}
		flagged.Set(col, row)
	}

	elided = NewTileMask(g)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if flagged.Has(col, row) && g.landLocked(flagged, col, row) {
				elided.Set(col, row)
			}
		}
	}

	return elided, ignored
}

func (g Grid) landLocked(flagged *TileMask, col, row int) bool {
	for dy := -landRadius; dy <= landRadius; dy++ {
		for dx := -landRadius; dx <= landRadius; dx++ {
			x, y := col+dx, row+dy
			if (dx == 0 && dy == 0) || !g.Contains(x, y) {
				continue
			}
			if !flagged.Has(x, y) {
				return false
			}
		}
	}
	return true
}
