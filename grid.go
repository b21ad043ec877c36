package tiler

import (
	"fmt"
	"image"
	"image/draw"
)

// Grid is the whole-tile region of a source image.
type Grid struct {
	Bounds   image.Rectangle // cropped region of the source image
	TileSize int
	Cols     int
	Rows     int
}

// NewGrid crops bounds down to a whole number of tileSize tiles. Trailing
// rows and columns of pixels are discarded.
func NewGrid(bounds image.Rectangle, tileSize int) (Grid, error) {
	if tileSize <= 0 {
		return Grid{}, fmt.Errorf("%w: tile_size must be positive, got %d", ErrGeometry, tileSize)
	}

	cols, rows := bounds.Dx()/tileSize, bounds.Dy()/tileSize
	if cols == 0 || rows == 0 {
		return Grid{}, fmt.Errorf("%w: tile_size %d gives a %dx%d grid for a %dx%d image", ErrGeometry, tileSize, cols, rows, bounds.Dx(), bounds.Dy())
	}

	origin := bounds.Min
	return Grid{
		Bounds:   image.Rect(origin.X, origin.Y, origin.X+cols*tileSize, origin.Y+rows*tileSize),
		TileSize: tileSize,
		Cols:     cols,
		Rows:     rows,
	}, nil
}

// Count returns the number of tiles.
func (g Grid) Count() int {
	return g.Cols * g.Rows
}

// Width returns the cropped width in pixels.
func (g Grid) Width() int {
	return g.Bounds.Dx()
}

// Height returns the cropped height in pixels.
func (g Grid) Height() int {
	return g.Bounds.Dy()
}

// Contains reports whether the tile coordinate is inside the grid.
func (g Grid) Contains(col, row int) bool {
	return col >= 0 && col < g.Cols && row >= 0 && row < g.Rows
}

// Index returns the row-major index of a tile.
func (g Grid) Index(col, row int) int {
	return row*g.Cols + col
}

// Rect returns the source image pixels covered by tile i.
func (g Grid) Rect(i int) image.Rectangle {
	col, row := i%g.Cols, i/g.Cols
	origin := g.Bounds.Min.Add(image.Pt(col*g.TileSize, row*g.TileSize))
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(g.TileSize, g.TileSize))}
}

// Tile returns the tile whose top-left corner is at pixel p, measured from the
// top-left of the image. ok is false if p is not a tile origin in the grid.
func (g Grid) Tile(p image.Point) (col, row int, ok bool) {
	if p.X < 0 || p.Y < 0 || p.X%g.TileSize != 0 || p.Y%g.TileSize != 0 {
		return 0, 0, false
	}
	col, row = p.X/g.TileSize, p.Y/g.TileSize
	return col, row, g.Contains(col, row)
}

// Slot is one tile of a sliced image. Elided slots carry no image.
type Slot struct {
	Index  int
	Image  image.Image
	Elided bool
}

type subImager interface {
	SubImage(image.Rectangle) image.Image
}

func crop(m image.Image, r image.Rectangle) image.Image {
	if s, ok := m.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, m, r.Min, draw.Src)
	return dst
}

// Slice cuts m into tiles in row-major order. Tiles set in elided are not
// cropped at all.
func (g Grid) Slice(m image.Image, elided *TileMask) []Slot {
	slots := make([]Slot, 0, g.Count())
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			i := g.Index(col, row)
			if elided != nil && elided.Has(col, row) {
				slots = append(slots, Slot{Index: i, Elided: true})
				continue
			}
			slots = append(slots, Slot{Index: i, Image: crop(m, g.Rect(i))})
		}
	}
	return slots
}
