package atlas

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Layout is the result of placing every section of an atlas.
type Layout struct {
	Header  Header
	Entries []Entry
	Padding int
	Size    int64
}

// Builder accumulates the sections of an atlas and writes them in a single
// forward pass. Tiles must be added in row-major order.
type Builder struct {
	geometry    Geometry
	bounds      GeoBox
	placeholder []byte
	tiles       [][]byte // nil for elided tiles
	elided      int
	landMask    []byte
	gps         []GPSRecord
}

// NewBuilder returns a Builder for the given geometry. The placeholder is the
// encoded land-only tile shared by every elided tile.
func NewBuilder(g Geometry, placeholder []byte) *Builder {
	return &Builder{
		geometry:    g,
		placeholder: placeholder,
		tiles:       make([][]byte, 0, g.TileCount()),
	}
}

// AddTile appends an encoded tile.
func (b *Builder) AddTile(data []byte) {
	b.tiles = append(b.tiles, data)
}

// AddElided appends a tile that shares the placeholder.
func (b *Builder) AddElided() {
	b.tiles = append(b.tiles, nil)
	b.elided++
}

// Tiles returns the number of tiles added so far.
func (b *Builder) Tiles() int {
	return len(b.tiles)
}

// Elided returns the number of tiles sharing the placeholder.
func (b *Builder) Elided() int {
	return b.elided
}

// SetLandMask stores the little-endian land mask words.
func (b *Builder) SetLandMask(data []byte) {
	b.landMask = data
}

// SetGPS stores the GPS table and the bounding box written to the header.
func (b *Builder) SetGPS(records []GPSRecord, bounds GeoBox) {
	b.gps = records
	b.bounds = bounds
}

func fits(n int64, what string) error {
	if n > math.MaxUint32 {
		return fmt.Errorf("atlas: %s %d does not fit in 32 bits", what, n)
	}
	return nil
}

// Layout computes every offset without writing anything.
func (b *Builder) Layout() (*Layout, error) {
	count := b.geometry.TileCount()
	switch {
	case count == 0:
		return nil, errors.New("atlas: no tiles")
	case len(b.tiles) != count:
		return nil, fmt.Errorf("atlas: have %d tiles, geometry needs %d", len(b.tiles), count)
	case len(b.gps) != count:
		return nil, fmt.Errorf("atlas: have %d GPS records, geometry needs %d", len(b.gps), count)
	case len(b.landMask)%4 != 0:
		return nil, errBadLandMask
	case len(b.placeholder) == 0:
		return nil, errors.New("atlas: empty placeholder tile")
	}

	l := &Layout{
		Entries: make([]Entry, count),
	}

	offset := int64(HeaderSize) + int64(count)*EntrySize
	shared := Entry{Size: uint32(len(b.placeholder)), Offset: uint32(offset)}
	offset += int64(len(b.placeholder))

	for i, t := range b.tiles {
		if t == nil {
			l.Entries[i] = shared
			continue
		}
		if err := fits(offset, "tile offset"); err != nil {
			return nil, err
		}
		l.Entries[i] = Entry{Size: uint32(len(t)), Offset: uint32(offset)}
		offset += int64(len(t))
	}

	landMaskOffset := align(offset)
	l.Padding = int(landMaskOffset - offset)

	gpsOffset := landMaskOffset + int64(len(b.landMask))
	l.Size = gpsOffset + int64(count)*GPSRecordSize

	if err := fits(l.Size, "file size"); err != nil {
		return nil, err
	}

	l.Header = Header{
		Magic:              Magic,
		MinLongitude:       b.bounds.MinLongitude,
		MinLatitude:        b.bounds.MinLatitude,
		MaxLongitude:       b.bounds.MaxLongitude,
		MaxLatitude:        b.bounds.MaxLatitude,
		TileCount:          uint32(count),
		TileRowSize:        b.geometry.TileRowSize,
		TileRows:           b.geometry.TileRows,
		LandMaskRowSize:    b.geometry.LandMaskRowSize,
		LandMaskRows:       b.geometry.LandMaskRows,
		GPSRowLength:       b.geometry.GPSRowLength,
		GPSRows:            b.geometry.GPSRows,
		TileDataOffset:     HeaderSize,
		LandMaskDataOffset: uint32(landMaskOffset),
		GPSDataOffset:      uint32(gpsOffset),
	}

	return l, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes the atlas to w. It implements io.WriterTo.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	l, err := b.Layout()
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	if err := binary.Write(bw, binary.LittleEndian, &l.Header); err != nil {
		return cw.n, err
	}
	if err := binary.Write(bw, binary.LittleEndian, l.Entries); err != nil {
		return cw.n, err
	}

	// The placeholder is written once, every elided entry points at it
	if _, err := bw.Write(b.placeholder); err != nil {
		return cw.n, err
	}
	for _, t := range b.tiles {
		if t == nil {
			continue
		}
		if _, err := bw.Write(t); err != nil {
			return cw.n, err
		}
	}

	if _, err := bw.Write(bytes.Repeat([]byte{Filler}, l.Padding)); err != nil {
		return cw.n, err
	}
	if _, err := bw.Write(b.landMask); err != nil {
		return cw.n, err
	}
	if err := binary.Write(bw, binary.LittleEndian, b.gps); err != nil {
		return cw.n, err
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}

	if cw.n != l.Size {
		return cw.n, fmt.Errorf("atlas: wrote %d bytes, layout expected %d", cw.n, l.Size)
	}

	return cw.n, nil
}

// MarshalBinary encodes the atlas into binary form and returns the result
func (b *Builder) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := b.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
