package atlas

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// File is a decoded atlas.
type File struct {
	Header   Header
	Entries  []Entry
	LandMask []uint32
	GPS      []GPSRecord

	data []byte
}

// Decode parses an atlas held in b and checks that every section and every
// directory entry lies where the header says it does.
func Decode(b []byte) (*File, error) {
	r := bytes.NewReader(b)

	f := &File{data: b}
	if err := binary.Read(r, binary.LittleEndian, &f.Header); err != nil {
		return nil, fmt.Errorf("%w: %w", errTruncated, err)
	}
	h := f.Header

	if h.Magic != Magic {
		return nil, errBadMagic
	}

	size := int64(len(b))
	tileData := int64(h.TileDataOffset) + int64(h.TileCount)*EntrySize
	gpsEnd := int64(h.GPSDataOffset) + int64(h.TileCount)*GPSRecordSize

	if !(h.TileDataOffset < h.LandMaskDataOffset && h.LandMaskDataOffset < h.GPSDataOffset) || h.LandMaskDataOffset%alignment != 0 || tileData > int64(h.LandMaskDataOffset) {
		return nil, errBadOffsets
	}
	if gpsEnd > size {
		return nil, errTruncated
	}
	if (h.GPSDataOffset-h.LandMaskDataOffset)%4 != 0 {
		return nil, errBadLandMask
	}

	f.Entries = make([]Entry, h.TileCount)
	if _, err := r.Seek(int64(h.TileDataOffset), io.SeekStart); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, f.Entries); err != nil {
		return nil, fmt.Errorf("%w: %w", errTruncated, err)
	}

	for i, e := range f.Entries {
		if int64(e.Offset) < tileData || int64(e.Offset)+int64(e.Size) > int64(h.LandMaskDataOffset) {
			return nil, fmt.Errorf("%w: entry %d (size %d, offset %d)", errBadEntry, i, e.Size, e.Offset)
		}
	}

	f.LandMask = make([]uint32, (h.GPSDataOffset-h.LandMaskDataOffset)/4)
	if _, err := r.Seek(int64(h.LandMaskDataOffset), io.SeekStart); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, f.LandMask); err != nil {
		return nil, fmt.Errorf("%w: %w", errTruncated, err)
	}

	f.GPS = make([]GPSRecord, h.TileCount)
	if err := binary.Read(r, binary.LittleEndian, f.GPS); err != nil {
		return nil, fmt.Errorf("%w: %w", errTruncated, err)
	}

	return f, nil
}

// Tile returns the encoded bytes of tile i.
func (f *File) Tile(i int) []byte {
	e := f.Entries[i]
	return f.data[e.Offset : e.Offset+e.Size]
}

// Padding returns the bytes between the end of the tile data and the land
// mask.
func (f *File) Padding() []byte {
	var end uint32
	for _, e := range f.Entries {
		if e.Offset+e.Size > end {
			end = e.Offset + e.Size
		}
	}
	return f.data[end:f.Header.LandMaskDataOffset]
}
