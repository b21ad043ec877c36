package tile

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sort"

	"github.com/ericpauley/go-quantize/quantize"
)

var (
	errBadColors = errors.New("tile: color count must be between 1 and 64")
	errEmpty     = errors.New("tile: empty image")
)

type encoder struct {
	w io.Writer
}

func (e *encoder) encode(m *image.Paletted) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(e.w, m)
}

// Order colors by their 16-bit RGBA components so the palette doesn't depend
// on how the quantizer happened to emit it
func sortPalette(p color.Palette) color.Palette {
	key := func(c color.Color) uint64 {
		r, g, b, a := c.RGBA()
		return uint64(r)<<48 | uint64(g)<<32 | uint64(b)<<16 | uint64(a)
	}
	sort.SliceStable(p, func(i, j int) bool {
		return key(p[i]) < key(p[j])
	})
	return p
}

// Encode writes the Image m to w as a paletted PNG using no more than colors
// palette entries.
func Encode(w io.Writer, m image.Image, colors int) error {
	if colors < 1 || colors > MaxColors {
		return errBadColors
	}

	b := m.Bounds()
	if b.Empty() {
		return errEmpty
	}

	pm, _ := m.(*image.Paletted)
	if pm == nil || len(pm.Palette) > colors {
		q := quantize.MedianCutQuantizer{}
		p := sortPalette(q.Quantize(make(color.Palette, 0, colors), m))
		if len(p) == 0 {
			return errEmpty
		}

		// draw.Src picks the nearest palette entry, there is no dithering
		pm = image.NewPaletted(b, p)
		draw.Draw(pm, b, m, b.Min, draw.Src)
	}

	// Adjust image so that top-left corner is at (0, 0)
	if pm.Rect.Min != (image.Point{}) {
		dup := *pm
		dup.Rect = dup.Rect.Sub(dup.Rect.Min)
		pm = &dup
	}

	e := encoder{w: w}

	return e.encode(pm)
}

// LandOnly returns the encoded size by size tile filled entirely with c.
func LandOnly(size int, c color.Color) ([]byte, error) {
	if size <= 0 {
		return nil, errEmpty
	}

	m := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{c})

	b := new(bytes.Buffer)
	e := encoder{w: b}
	if err := e.encode(m); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
