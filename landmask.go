package tiler

import (
	"encoding/binary"
	"fmt"
)

// LandMask is the path finder's land bitmap. Each row is RowSize bits stored
// in 32-bit words; the bit layout is up to the client.
type LandMask struct {
	RowSize int
	Rows    int
	Words   []uint32
}

// BuildLandMask checks that words covers the grid at the path finder's
// resolution.
func BuildLandMask(g Grid, pathFinderTileSize int, words []uint32) (*LandMask, error) {
	if pathFinderTileSize <= 0 || g.TileSize%pathFinderTileSize != 0 {
		return nil, fmt.Errorf("%w: path_finder_tile_size %d does not divide tile_size %d", ErrGeometry, pathFinderTileSize, g.TileSize)
	}

	scale := g.TileSize / pathFinderTileSize
	l := &LandMask{
		RowSize: g.Cols * scale,
		Rows:    g.Rows * scale,
		Words:   words,
	}

	if want := l.Rows * l.WordsPerRow(); len(words) != want {
		return nil, fmt.Errorf("%w: land_mask has %d words, %d rows of %d bits need %d", ErrGeometry, len(words), l.Rows, l.RowSize, want)
	}

	return l, nil
}

// WordsPerRow returns the number of 32-bit words in each row.
func (l *LandMask) WordsPerRow() int {
	return (l.RowSize + 31) / 32
}

// MarshalBinary encodes the words as little-endian bytes
func (l *LandMask) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4*len(l.Words))
	for i, w := range l.Words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b, nil
}
