package tiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/bodgit/tiler/atlas"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A 7x7 grid of 16 pixel tiles, every tile but the top-left one is flagged
// as land
func smallMap(t *testing.T, dir string) map[string]interface{} {
	t.Helper()

	const cols, rows, size = 7, 7, 16

	m := image.NewRGBA(image.Rect(0, 0, cols*size, rows*size))
	for y := 0; y < rows*size; y++ {
		for x := 0; x < cols*size; x++ {
			col, row := x/size, y/size
			m.Set(x, y, color.RGBA{uint8(col * 32), uint8(row * 32), uint8(x % size * 4), 0xff})
		}
	}
	writePNG(t, filepath.Join(dir, "map.png"), m)

	var land []map[string]int
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if col == 0 && row == 0 {
				continue
			}
			land = append(land, map[string]int{"x_pixel": col * size, "y_pixel": row * size})
		}
	}

	mask := make([]uint32, 14)
	for i := range mask {
		mask[i] = 0x3fff
	}

	return map[string]interface{}{
		"map_filename":          "map.png",
		"tile_size":             size,
		"path_finder_tile_size": 8,
		"gps_tile_size":         16,
		"workers":               4,
		"all_land_tiles":        land,
		"land_mask":             mask,
		"land_pixel_colors": []map[string]int{
			{"r": 10, "g": 200, "b": 30},
			{"r": 11, "g": 201, "b": 31},
		},
		"point_to_gps_position": []map[string]interface{}{
			{"x_pixel": 35, "y_pixel": 17, "latitude": 59.5, "longitude": 18.25},
			{"x_pixel": 100, "y_pixel": 100, "latitude": 59.25, "longitude": 18.75},
		},
	}
}

func writePNG(t *testing.T, file string, m image.Image) {
	t.Helper()

	f, err := os.Create(file)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, png.Encode(f, m))
}

func writeMetadata(t *testing.T, dir string, md map[string]interface{}) string {
	t.Helper()

	b, err := json.Marshal(md)
	require.NoError(t, err)

	file := filepath.Join(dir, "metadata.json")
	require.NoError(t, os.WriteFile(file, b, 0o644))
	return file
}

func newTestPacker() (*Packer, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return New(logger, nil), hook
}

func decodeFile(t *testing.T, file string) (*atlas.File, []byte) {
	t.Helper()

	b, err := os.ReadFile(file)
	require.NoError(t, err)

	f, err := atlas.Decode(b)
	require.NoError(t, err)
	return f, b
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestPack(t *testing.T) {
	dir := t.TempDir()
	file := writeMetadata(t, dir, smallMap(t, dir))
	output := filepath.Join(dir, "map.atlas")

	p, hook := newTestPacker()

	s, err := p.Pack(file, output)
	require.NoError(t, err)
	assert.Equal(t, 49, s.Tiles)
	assert.Equal(t, 40, s.Elided)

	f, b := decodeFile(t, output)
	assert.Equal(t, int64(len(b)), s.Size)

	h := f.Header
	assert.Equal(t, atlas.Magic, h.Magic)
	assert.Equal(t, uint32(49), h.TileCount)
	assert.Equal(t, uint32(7), h.TileRowSize)
	assert.Equal(t, uint32(7), h.TileRows)
	assert.Equal(t, uint32(14), h.LandMaskRowSize)
	assert.Equal(t, uint32(14), h.LandMaskRows)
	assert.Equal(t, uint32(7), h.GPSRowLength)
	assert.Equal(t, uint32(7), h.GPSRows)
	assert.Equal(t, uint32(atlas.HeaderSize), h.TileDataOffset)
	assert.Zero(t, h.LandMaskDataOffset%4)
	assert.Equal(t, h.LandMaskDataOffset+14*4, h.GPSDataOffset)
	assert.Equal(t, int64(h.GPSDataOffset)+49*atlas.GPSRecordSize, int64(len(b)))

	// The placeholder follows the directory and is shared by every elided
	// tile; tiles within two of the water tile keep their own pixels
	placeholder := f.Entries[1*7+4]
	assert.Equal(t, uint32(atlas.HeaderSize+49*atlas.EntrySize), placeholder.Offset)

	offsets := map[uint32]bool{}
	for i, e := range f.Entries {
		col, row := i%7, i/7
		if col > 2 || row > 2 {
			assert.Equal(t, placeholder, e, "tile (%d, %d)", col, row)
			continue
		}
		assert.NotEqual(t, placeholder.Offset, e.Offset, "tile (%d, %d)", col, row)
		assert.False(t, offsets[e.Offset], "tile (%d, %d) shares an offset", col, row)
		offsets[e.Offset] = true
	}

	// Tiles are PNGs of the right size, the placeholder is the first land
	// color
	m, err := png.Decode(bytes.NewReader(f.Tile(0)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), m.Bounds())

	m, err = png.Decode(bytes.NewReader(f.Tile(48)))
	require.NoError(t, err)
	r, g, bl, _ := m.At(5, 5).RGBA()
	assert.Equal(t, []uint32{10, 200, 30}, []uint32{r >> 8, g >> 8, bl >> 8})

	for _, c := range f.Padding() {
		assert.Equal(t, atlas.Filler, c)
	}
	assert.Less(t, len(f.Padding()), 4)

	for _, w := range f.LandMask {
		assert.Equal(t, uint32(0x3fff), w)
	}

	// (17 / 16) * 7 + 35 / 16 and (100 / 16) * 7 + 100 / 16
	assert.Equal(t, atlas.GPSRecord{Latitude: 59.5, Longitude: 18.25}, f.GPS[9])
	assert.Equal(t, atlas.GPSRecord{Latitude: 59.25, Longitude: 18.75}, f.GPS[48])
	assert.Equal(t, float32(18.25), h.MinLongitude)
	assert.Equal(t, float32(59.25), h.MinLatitude)
	assert.Equal(t, float32(18.75), h.MaxLongitude)
	assert.Equal(t, float32(59.5), h.MaxLatitude)

	assert.Equal(t, "Wrote atlas", hook.LastEntry().Message)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	assert.Equal(t, []string{"map.atlas", "map.png", "metadata.json"}, dirNames(t, dir))
}

func TestPackIsReproducible(t *testing.T) {
	dir := t.TempDir()
	md := smallMap(t, dir)
	file := writeMetadata(t, dir, md)

	p, _ := newTestPacker()

	first := filepath.Join(dir, "first.atlas")
	_, err := p.Pack(file, first)
	require.NoError(t, err)

	md["workers"] = 1
	file = writeMetadata(t, dir, md)

	second := filepath.Join(dir, "second.atlas")
	_, err = p.Pack(file, second)
	require.NoError(t, err)

	_, a := decodeFile(t, first)
	_, b := decodeFile(t, second)
	assert.True(t, cmp.Equal(a, b), "atlases differ")
}

func TestPackWithTileCache(t *testing.T) {
	dir := t.TempDir()
	md := smallMap(t, dir)
	file := writeMetadata(t, dir, md)

	p, _ := newTestPacker()

	plain := filepath.Join(dir, "plain.atlas")
	_, err := p.Pack(file, plain)
	require.NoError(t, err)

	md["tile_cache"] = "tiles.db"
	file = writeMetadata(t, dir, md)

	// Once to fill the cache, once to read from it
	for _, name := range []string{"cold.atlas", "warm.atlas"} {
		_, err = p.Pack(file, filepath.Join(dir, name))
		require.NoError(t, err)
	}

	_, want := decodeFile(t, plain)
	for _, name := range []string{"cold.atlas", "warm.atlas"} {
		_, got := decodeFile(t, filepath.Join(dir, name))
		assert.True(t, cmp.Equal(want, got), "%s differs", name)
	}
	assert.FileExists(t, filepath.Join(dir, "tiles.db"))
}

func TestPackFourTiles(t *testing.T) {
	dir := t.TempDir()

	m := image.NewRGBA(image.Rect(0, 0, 512, 512))
	for y := 0; y < 512; y++ {
		for x := 0; x < 512; x++ {
			m.Set(x, y, color.RGBA{uint8(x / 256 * 100), uint8(y / 256 * 100), 0x20, 0xff})
		}
	}
	writePNG(t, filepath.Join(dir, "map.png"), m)

	file := writeMetadata(t, dir, map[string]interface{}{
		"map_filename":          "map.png",
		"tile_size":             256,
		"path_finder_tile_size": 32,
		"all_land_tiles": []map[string]int{
			{"x_pixel": 0, "y_pixel": 0},
			{"x_pixel": 256, "y_pixel": 0},
			{"x_pixel": 0, "y_pixel": 256},
		},
		"land_mask":             make([]uint32, 16),
		"land_pixel_colors":     []map[string]int{{"r": 0, "g": 128, "b": 0}},
		"point_to_gps_position": []map[string]interface{}{},
	})

	p, _ := newTestPacker()

	output := filepath.Join(dir, "map.atlas")
	s, err := p.Pack(file, output)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tiler: Converted to 4 tiles (0 elided), total size: %.2f KiB", float64(s.Size)/1024), s.String())

	f, _ := decodeFile(t, output)
	assert.Equal(t, uint32(4), f.Header.TileCount)
	assert.Equal(t, uint32(2), f.Header.GPSRowLength)
	assert.Equal(t, uint32(2), f.Header.GPSRows)
	assert.Equal(t, uint32(16), f.Header.LandMaskRowSize)

	// No sample contributes so the bounding box stays at the sentinels
	assert.Equal(t, float32(-200), f.Header.MinLongitude)
	assert.Equal(t, float32(200), f.Header.MaxLatitude)

	// The placeholder is still written once even though nothing uses it
	first := uint32(atlas.HeaderSize + 4*atlas.EntrySize)
	offsets := map[uint32]bool{}
	for i, e := range f.Entries {
		assert.Greater(t, e.Offset, first, "tile %d", i)
		offsets[e.Offset] = true
	}
	assert.Len(t, offsets, 4)

	for _, r := range f.GPS {
		assert.True(t, r.Unset())
	}
}

func TestPackErrors(t *testing.T) {
	tables := map[string]struct {
		change func(t *testing.T, dir string, md map[string]interface{}) string
		err    error
	}{
		"missing metadata": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				return filepath.Join(dir, "missing.json")
			},
			err: ErrIO,
		},
		"missing key": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				delete(md, "land_mask")
				return writeMetadata(t, dir, md)
			},
			err: ErrSchema,
		},
		"bad value": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				md["tile_colors"] = 65
				return writeMetadata(t, dir, md)
			},
			err: ErrSchema,
		},
		"missing image": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				md["map_filename"] = "other.png"
				return writeMetadata(t, dir, md)
			},
			err: ErrIO,
		},
		"fractional land mask": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				md["land_mask"] = []interface{}{1.5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
				return writeMetadata(t, dir, md)
			},
			err: ErrSchema,
		},
		"short land mask": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				md["land_mask"] = make([]uint32, 13)
				return writeMetadata(t, dir, md)
			},
			err: ErrGeometry,
		},
		"path finder size": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				md["path_finder_tile_size"] = 5
				return writeMetadata(t, dir, md)
			},
			err: ErrGeometry,
		},
		"tile too big": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				md["tile_size"] = 128
				return writeMetadata(t, dir, md)
			},
			err: ErrGeometry,
		},
		"gps sample outside": {
			change: func(t *testing.T, dir string, md map[string]interface{}) string {
				md["point_to_gps_position"] = []map[string]interface{}{
					{"x_pixel": 200, "y_pixel": 0, "latitude": 1.0, "longitude": 1.0},
				}
				return writeMetadata(t, dir, md)
			},
			err: ErrGeometry,
		},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			file := table.change(t, dir, smallMap(t, dir))

			output := filepath.Join(dir, "map.atlas")
			require.NoError(t, os.WriteFile(output, []byte("old"), 0o644))
			before := dirNames(t, dir)

			p, _ := newTestPacker()

			_, err := p.Pack(file, output)
			require.Error(t, err)
			assert.True(t, errors.Is(err, table.err), "%v", err)

			// Exactly one kind
			n := 0
			for _, kind := range []error{ErrSchema, ErrGeometry, ErrIO} {
				if errors.Is(err, kind) {
					n++
				}
			}
			assert.Equal(t, 1, n)

			b, err := os.ReadFile(output)
			require.NoError(t, err)
			assert.Equal(t, []byte("old"), b)
			assert.Equal(t, before, dirNames(t, dir))
		})
	}
}

func TestPackUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	file := writeMetadata(t, dir, smallMap(t, dir))

	p, _ := newTestPacker()

	_, err := p.Pack(file, filepath.Join(dir, "missing", "map.atlas"))
	assert.True(t, errors.Is(err, ErrIO), "%v", err)
}

type failingEncoder struct {
	fail int
}

func (e failingEncoder) Encode(m image.Image, colors int) ([]byte, error) {
	if m.Bounds().Min.X == e.fail {
		return nil, errors.New("boom")
	}
	return []byte{1}, nil
}

func TestEncodeTilesError(t *testing.T) {
	g, err := NewGrid(image.Rect(0, 0, 64, 16), 16)
	require.NoError(t, err)

	slots := g.Slice(image.NewRGBA(g.Bounds), nil)

	p, _ := newTestPacker()

	_, err = p.encodeTiles(slots, failingEncoder{fail: 32}, 4, 2)
	assert.EqualError(t, err, "tile 2: boom")

	out, err := p.encodeTiles(slots, failingEncoder{fail: -1}, 4, 3)
	require.NoError(t, err)
	assert.Len(t, out, 4)
}

func TestEncodeTilesSkipsElided(t *testing.T) {
	g, err := NewGrid(image.Rect(0, 0, 64, 16), 16)
	require.NoError(t, err)

	elided := NewTileMask(g)
	elided.Set(2, 0)

	p, _ := newTestPacker()

	// The elided tile would fail if it reached the encoder
	out, err := p.encodeTiles(g.Slice(image.NewRGBA(g.Bounds), elided), failingEncoder{fail: 32}, 4, 2)
	require.NoError(t, err)
	assert.Nil(t, out[2])
	assert.Equal(t, []byte{1}, out[3])
}
