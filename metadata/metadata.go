/*
Package metadata loads the description of a map that accompanies the source
image: tile geometry, the tiles annotated as all land, the path finder land
mask and the pixel to GPS position samples.

The file may be YAML, JSON or TOML, chosen by its extension. Optional keys can
be overridden from the environment with a TILER_ prefix, so tile_cache becomes
TILER_TILE_CACHE. Required keys are only ever read from the file.

Integer keys must hold whole numbers that fit their type; 1.5 or -1 for a
land mask word is an error rather than being truncated or wrapped.
*/
package metadata

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// DefaultGPSTileSize is the side in pixels of one GPS cell
	DefaultGPSTileSize = 256

	// DefaultTileColors is the palette size tiles are reduced to
	DefaultTileColors = 64

	maxTileColors = 64
	envPrefix     = "TILER"
)

var optional = []string{
	"gps_tile_size",
	"tile_colors",
	"workers",
	"tile_cache",
}

var required = []string{
	"map_filename",
	"tile_size",
	"path_finder_tile_size",
	"all_land_tiles",
	"land_mask",
	"land_pixel_colors",
	"point_to_gps_position",
}

// Pixel is the top-left corner of a tile in source image pixels.
type Pixel struct {
	X int `mapstructure:"x_pixel"`
	Y int `mapstructure:"y_pixel"`
}

// Color is a land color sampled from the source image.
type Color struct {
	R int `mapstructure:"r"`
	G int `mapstructure:"g"`
	B int `mapstructure:"b"`
}

// GPSPosition ties a source image pixel to a geographic position.
type GPSPosition struct {
	X         int     `mapstructure:"x_pixel"`
	Y         int     `mapstructure:"y_pixel"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// Metadata is the parsed metadata file.
type Metadata struct {
	MapFilename        string `mapstructure:"map_filename"`
	TileSize           int    `mapstructure:"tile_size"`
	PathFinderTileSize int    `mapstructure:"path_finder_tile_size"`
	GPSTileSize        int    `mapstructure:"gps_tile_size"`
	TileColors         int    `mapstructure:"tile_colors"`
	TileCache          string `mapstructure:"tile_cache"`
	Workers            int    `mapstructure:"workers"`

	AllLandTiles       []Pixel       `mapstructure:"all_land_tiles"`
	LandMask           []uint32      `mapstructure:"land_mask"`
	LandPixelColors    []Color       `mapstructure:"land_pixel_colors"`
	PointToGPSPosition []GPSPosition `mapstructure:"point_to_gps_position"`

	dir string
}

// KeyError describes a problem with a single metadata key.
type KeyError struct {
	Key     string
	Problem string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Problem)
}

// Load reads and validates the metadata file at path. A file that cannot be
// read returns the underlying *fs.PathError; anything wrong with its contents
// returns one or more *KeyError values joined together.
func Load(path string) (*Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetDefault("gps_tile_size", DefaultGPSTileSize)
	v.SetDefault("tile_colors", DefaultTileColors)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("tile_cache", "")

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return nil, err
		}
		return nil, &KeyError{Key: filepath.Base(path), Problem: err.Error()}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range optional {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var errs []error
	for _, key := range required {
		if !v.IsSet(key) {
			errs = append(errs, &KeyError{Key: key, Problem: "missing required key"})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var m Metadata
	if err := v.Unmarshal(&m, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		wholeNumberHook,
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, decodeError(filepath.Base(path), err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

// wholeNumberHook rejects numbers that would lose information when stored in
// an integer field. mapstructure otherwise truncates fractions and wraps
// negative or oversized values.
func wholeNumberHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if !isSigned(to.Kind()) && !isUnsigned(to.Kind()) {
		return data, nil
	}

	v := reflect.ValueOf(data)

	var n *big.Int
	switch k := from.Kind(); {
	case isSigned(k):
		n = big.NewInt(v.Int())
	case isUnsigned(k):
		n = new(big.Int).SetUint64(v.Uint())
	case k == reflect.Float32 || k == reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not a whole number", data)
		}
		n, _ = big.NewFloat(f).Int(nil)
	default:
		return data, nil
	}

	out := reflect.New(to).Elem()
	if isSigned(to.Kind()) {
		if !n.IsInt64() || out.OverflowInt(n.Int64()) {
			return nil, fmt.Errorf("%v is out of range for %s", data, to)
		}
	} else if !n.IsUint64() || out.OverflowUint(n.Uint64()) {
		return nil, fmt.Errorf("%v is out of range for %s", data, to)
	}

	return data, nil
}

// decodeError splits a mapstructure error into one KeyError per offending
// key, falling back to file when the key can't be recovered.
func decodeError(file string, err error) error {
	var me *mapstructure.Error
	if !errors.As(err, &me) || len(me.Errors) == 0 {
		return &KeyError{Key: file, Problem: err.Error()}
	}

	errs := make([]error, 0, len(me.Errors))
	for _, s := range me.Errors {
		key, problem := file, s
		if i := strings.Index(s, "'"); i >= 0 {
			if j := strings.Index(s[i+1:], "'"); j >= 0 {
				key = s[i+1 : i+1+j]
				problem = strings.TrimLeft(s[i+1+j+1:], ": ")
			}
		}
		errs = append(errs, &KeyError{Key: key, Problem: problem})
	}
	return errors.Join(errs...)
}

// Validate checks that every key has a usable value.
func (m *Metadata) Validate() error {
	var errs []error

	problem := func(key, format string, a ...interface{}) {
		errs = append(errs, &KeyError{Key: key, Problem: fmt.Sprintf(format, a...)})
	}

	if m.MapFilename == "" {
		problem("map_filename", "must not be empty")
	}
	if m.TileSize <= 0 {
		problem("tile_size", "must be positive, got %d", m.TileSize)
	}
	if m.PathFinderTileSize <= 0 {
		problem("path_finder_tile_size", "must be positive, got %d", m.PathFinderTileSize)
	}
	if m.GPSTileSize <= 0 {
		problem("gps_tile_size", "must be positive, got %d", m.GPSTileSize)
	}
	if m.TileColors < 1 || m.TileColors > maxTileColors {
		problem("tile_colors", "must be between 1 and %d, got %d", maxTileColors, m.TileColors)
	}
	if m.Workers < 1 {
		problem("workers", "must be at least 1, got %d", m.Workers)
	}
	if len(m.LandPixelColors) == 0 {
		problem("land_pixel_colors", "needs at least one color")
	}
	for i, c := range m.LandPixelColors {
		for _, v := range []int{c.R, c.G, c.B} {
			if v < 0 || v > 0xff {
				problem(fmt.Sprintf("land_pixel_colors[%d]", i), "component %d out of range 0-255", v)
				break
			}
		}
	}

	return errors.Join(errs...)
}

// Path resolves p relative to the directory holding the metadata file.
func (m *Metadata) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

// LandColor returns the color used to fill the land-only tile.
func (m *Metadata) LandColor() color.RGBA {
	c := m.LandPixelColors[0]
	return color.RGBA{uint8(c.R), uint8(c.G), uint8(c.B), 0xff}
}
