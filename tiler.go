/*
Package tiler is a library for baking a large raster map and its metadata into
a single tile atlas for the map client.

The source image is cut into square tiles. Tiles annotated as land whose whole
neighbourhood is land too are replaced by one shared land-colored placeholder,
every other tile is reduced to a small palette and PNG encoded. The path finder
land mask and a coarse pixel to GPS lookup table are stored alongside; see
package atlas for the file layout.
*/
package tiler

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Every error returned by the packer wraps exactly one of these.
var (
	ErrSchema   = errors.New("schema error")
	ErrGeometry = errors.New("geometry error")
	ErrIO       = errors.New("i/o error")
)

// Packer builds tile atlases.
type Packer struct {
	logger   logrus.FieldLogger
	progress io.Writer
}

// New returns a Packer logging to logger. If progress is not nil a progress
// bar is drawn on it while tiles are encoded.
func New(logger logrus.FieldLogger, progress io.Writer) *Packer {
	return &Packer{
		logger:   logger,
		progress: progress,
	}
}

// Summary describes a finished atlas.
type Summary struct {
	Tiles  int
	Elided int
	Size   int64
}

func (s Summary) String() string {
	return fmt.Sprintf("tiler: Converted to %d tiles (%d elided), total size: %.2f KiB", s.Tiles, s.Elided, float64(s.Size)/1024)
}
