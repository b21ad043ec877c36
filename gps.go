package tiler

import (
	"fmt"

	"github.com/bodgit/tiler/atlas"
)

// Bounding box value used until a valid sample is seen
const boundsSentinel = 200

// GPSSample ties a source image pixel to a geographic position.
type GPSSample struct {
	X, Y      int
	Latitude  float64
	Longitude float64
}

// GPSIndex is the dense cell to position lookup table.
type GPSIndex struct {
	CellSize  int
	RowLength int
	Rows      int
	Records   []atlas.GPSRecord
	Bounds    atlas.GeoBox
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// BuildGPSIndex spreads samples over a grid of cellSize pixel cells. The table
// has one record per tile of g; a sample lands in the cell containing its
// pixel and later samples overwrite earlier ones.
//
// Samples with a zero latitude or longitude are still written to the table
// but don't contribute to the bounding box, so a position on the equator or
// the prime meridian is indistinguishable from an empty cell. If no sample
// contributes, the box is left at -200..200 on both axes.
func BuildGPSIndex(g Grid, cellSize int, samples []GPSSample) (*GPSIndex, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("%w: gps_tile_size must be positive, got %d", ErrGeometry, cellSize)
	}

	idx := &GPSIndex{
		CellSize:  cellSize,
		RowLength: ceilDiv(g.Width(), cellSize),
		Rows:      ceilDiv(g.Height(), cellSize),
		Records:   make([]atlas.GPSRecord, g.Count()),
	}

	if cells := idx.RowLength * idx.Rows; cells > len(idx.Records) {
		return nil, fmt.Errorf("%w: gps grid of %dx%d cells exceeds the %d entry table", ErrGeometry, idx.RowLength, idx.Rows, len(idx.Records))
	}

	minLon, minLat := float64(-boundsSentinel), float64(-boundsSentinel)
	maxLon, maxLat := float64(boundsSentinel), float64(boundsSentinel)
	seen := false

	for i, s := range samples {
		col, row := s.X/cellSize, s.Y/cellSize
		if s.X < 0 || s.Y < 0 || col >= idx.RowLength || row >= idx.Rows {
			return nil, fmt.Errorf("%w: point_to_gps_position[%d] at pixel (%d, %d) is outside the %dx%d gps grid", ErrGeometry, i, s.X, s.Y, idx.RowLength, idx.Rows)
		}

		cell := row*idx.RowLength + col
		if cell >= len(idx.Records) {
			return nil, fmt.Errorf("%w: point_to_gps_position[%d] at pixel (%d, %d) maps to cell %d, table has %d", ErrGeometry, i, s.X, s.Y, cell, len(idx.Records))
		}

		idx.Records[cell] = atlas.GPSRecord{
			Latitude:  float32(s.Latitude),
			Longitude: float32(s.Longitude),
		}

		if s.Latitude == 0 || s.Longitude == 0 {
			continue
		}

		if !seen {
			minLon, maxLon = s.Longitude, s.Longitude
			minLat, maxLat = s.Latitude, s.Latitude
			seen = true
			continue
		}

		if s.Longitude < minLon {
			minLon = s.Longitude
		}
		if s.Longitude > maxLon {
			maxLon = s.Longitude
		}
		if s.Latitude < minLat {
			minLat = s.Latitude
		}
		if s.Latitude > maxLat {
			maxLat = s.Latitude
		}
	}

	idx.Bounds = atlas.GeoBox{
		MinLongitude: float32(minLon),
		MinLatitude:  float32(minLat),
		MaxLongitude: float32(maxLon),
		MaxLatitude:  float32(maxLat),
	}

	return idx, nil
}
