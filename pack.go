package tiler

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bodgit/tiler/atlas"
	"github.com/bodgit/tiler/metadata"
	"github.com/bodgit/tiler/tile"
	"github.com/sirupsen/logrus"
)

func decodeImage(file string) (image.Image, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return m, nil
}

// Pack reads the metadata file and the source image it names and writes the
// atlas to output. Nothing is written to output unless the whole atlas could
// be built.
func (p *Packer) Pack(metadataFile, output string) (*Summary, error) {
	md, err := metadata.Load(metadataFile)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}

	m, err := decodeImage(md.Path(md.MapFilename))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	b, err := p.Build(md, m)
	if err != nil {
		return nil, err
	}

	data, err := b.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeometry, err)
	}

	// Refuse to write anything the client couldn't read back
	if _, err := atlas.Decode(data); err != nil {
		return nil, fmt.Errorf("%w: self check: %w", ErrGeometry, err)
	}

	if err := writeFile(output, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	s := &Summary{
		Tiles:  b.Tiles(),
		Elided: b.Elided(),
		Size:   int64(len(data)),
	}

	p.logger.WithFields(logrus.Fields{
		"tiles":  s.Tiles,
		"elided": s.Elided,
		"bytes":  s.Size,
	}).Info("Wrote atlas")

	return s, nil
}

// Build slices, encodes and lays out m according to md. The returned Builder
// holds the complete atlas in memory.
func (p *Packer) Build(md *metadata.Metadata, m image.Image) (*atlas.Builder, error) {
	g, err := NewGrid(m.Bounds(), md.TileSize)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"cols":      g.Cols,
		"rows":      g.Rows,
		"tile_size": g.TileSize,
	}).Info("Cropped source image")

	origins := make([]image.Point, len(md.AllLandTiles))
	for i, t := range md.AllLandTiles {
		origins[i] = image.Pt(t.X, t.Y)
	}
	elided, ignored := g.DetectLandTiles(origins)
	if ignored > 0 {
		p.logger.WithField("count", ignored).Debug("Ignored land tiles that are not tile origins in the grid")
	}
	p.logger.WithFields(logrus.Fields{
		"flagged": len(origins),
		"elided":  elided.Count(),
	}).Info("Detected land tiles")

	mask, err := BuildLandMask(g, md.PathFinderTileSize, md.LandMask)
	if err != nil {
		return nil, err
	}

	samples := make([]GPSSample, len(md.PointToGPSPosition))
	for i, s := range md.PointToGPSPosition {
		samples[i] = GPSSample{X: s.X, Y: s.Y, Latitude: s.Latitude, Longitude: s.Longitude}
	}
	gps, err := BuildGPSIndex(g, md.GPSTileSize, samples)
	if err != nil {
		return nil, err
	}

	placeholder, err := tile.LandOnly(g.TileSize, md.LandColor())
	if err != nil {
		return nil, fmt.Errorf("%w: land-only tile: %w", ErrIO, err)
	}

	var enc tileEncoder = pngEncoder{}
	if md.TileCache != "" {
		cache, err := OpenTileCache(md.Path(md.TileCache))
		if err != nil {
			return nil, fmt.Errorf("%w: tile_cache: %w", ErrIO, err)
		}
		defer func() {
			hits, misses := cache.Stats()
			p.logger.WithFields(logrus.Fields{"hits": hits, "misses": misses}).Info("Tile cache")
			cache.Close()
		}()
		enc = cache
	}

	slots := g.Slice(m, elided)
	encoded, err := p.encodeTiles(slots, enc, md.TileColors, md.Workers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	b := atlas.NewBuilder(atlas.Geometry{
		TileRowSize:     uint32(g.Cols),
		TileRows:        uint32(g.Rows),
		LandMaskRowSize: uint32(mask.RowSize),
		LandMaskRows:    uint32(mask.Rows),
		GPSRowLength:    uint32(gps.RowLength),
		GPSRows:         uint32(gps.Rows),
	}, placeholder)

	for _, s := range slots {
		if s.Elided {
			b.AddElided()
			continue
		}
		b.AddTile(encoded[s.Index])
	}

	words, err := mask.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: land_mask: %w", ErrGeometry, err)
	}
	b.SetLandMask(words)
	b.SetGPS(gps.Records, gps.Bounds)

	return b, nil
}

func writeFile(path string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = f.Chmod(0o644); err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}
