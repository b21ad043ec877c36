/*
Package atlas implements the tile atlas container read by the map client.

The file starts with a fixed 64 byte header followed by a directory of one
(size, offset) pair per map tile. The encoded tile data follows the directory;
the first blob is always the land-only placeholder which any number of
directory entries may point at. The tile data is padded with 0xaa bytes to a
4 byte boundary, then come the land mask words and finally one 16 byte GPS
record per tile. Every field is little-endian and every offset is absolute
from the start of the file.
*/
package atlas

import "errors"

const (
	// Magic identifies an atlas file, "TILRSWFT" when read as a
	// little-endian uint64
	Magic uint64 = 0x54494c5253574654

	// HeaderSize is the encoded size of Header
	HeaderSize = 64

	// EntrySize is the encoded size of a directory Entry
	EntrySize = 8

	// GPSRecordSize is the encoded size of a GPSRecord
	GPSRecordSize = 16

	// Filler is the byte used to pad the tile data up to the land mask
	Filler byte = 0xaa

	alignment = 4
)

var (
	errBadMagic    = errors.New("atlas: bad magic")
	errTruncated   = errors.New("atlas: truncated file")
	errBadOffsets  = errors.New("atlas: section offsets out of order")
	errBadEntry    = errors.New("atlas: directory entry outside tile data")
	errBadLandMask = errors.New("atlas: land mask is not a whole number of words")
)

// Header is the fixed size structure at the start of every atlas.
type Header struct {
	Magic uint64

	MinLongitude float32
	MinLatitude  float32
	MaxLongitude float32
	MaxLatitude  float32

	TileCount   uint32
	TileRowSize uint32
	TileRows    uint32

	LandMaskRowSize uint32
	LandMaskRows    uint32

	GPSRowLength uint32
	GPSRows      uint32

	TileDataOffset     uint32
	LandMaskDataOffset uint32
	GPSDataOffset      uint32
}

// Entry locates one encoded tile.
type Entry struct {
	Size   uint32
	Offset uint32
}

// GPSRecord is the position of the top-left corner of one GPS cell. The two
// reserved values are always written as zero; readers must not rely on them,
// in particular not divide by them.
type GPSRecord struct {
	Latitude  float32
	Longitude float32
	Reserved  [2]float32
}

// Unset reports whether no position was recorded for the cell.
func (r GPSRecord) Unset() bool {
	return r.Latitude == 0 && r.Longitude == 0
}

// GeoBox is the geographic extent stored in the header.
type GeoBox struct {
	MinLongitude float32
	MinLatitude  float32
	MaxLongitude float32
	MaxLatitude  float32
}

// Geometry carries the grid dimensions recorded in the header.
type Geometry struct {
	TileRowSize     uint32
	TileRows        uint32
	LandMaskRowSize uint32
	LandMaskRows    uint32
	GPSRowLength    uint32
	GPSRows         uint32
}

// TileCount is the number of directory entries implied by the geometry.
func (g Geometry) TileCount() int {
	return int(g.TileRowSize) * int(g.TileRows)
}

func align(n int64) int64 {
	if mod := n % alignment; mod > 0 {
		return n + alignment - mod
	}
	return n
}
