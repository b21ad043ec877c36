package tiler

import (
	"crypto/sha1"
	"database/sql"
	"encoding/binary"
	"fmt"
	"image"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// Bump when the tile encoding changes so stale entries are never returned
const cacheVersion = 2

// TileCache stores encoded tiles keyed by the SHA-1 of their pixels so
// rebuilding a mostly unchanged map skips the encoder. Cached bytes are what
// the encoder produced, so builds stay byte-identical with or without it.
type TileCache struct {
	db      *sql.DB
	encoder tileEncoder

	hits, misses atomic.Int64
}

// OpenTileCache opens or creates the cache database in file.
func OpenTileCache(file string) (*TileCache, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS tile (id INTEGER PRIMARY KEY NOT NULL, sha1 TEXT NOT NULL, colors INTEGER NOT NULL, data BLOB NOT NULL, UNIQUE(sha1, colors))"); err != nil {
		db.Close()
		return nil, err
	}

	return &TileCache{
		db:      db,
		encoder: pngEncoder{},
	}, nil
}

// Close closes the underlying database.
func (c *TileCache) Close() error {
	return c.db.Close()
}

// Stats returns the number of lookups served from and missing in the cache.
func (c *TileCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func pixelHash(m image.Image) string {
	h := sha1.New()

	bounds := m.Bounds()
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(cacheVersion))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(bounds.Dx()))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(bounds.Dy()))
	h.Write(hdr[:])

	var tmp [8]byte
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := m.At(x, y).RGBA()
			binary.LittleEndian.PutUint16(tmp[0:], uint16(r))
			binary.LittleEndian.PutUint16(tmp[2:], uint16(g))
			binary.LittleEndian.PutUint16(tmp[4:], uint16(b))
			binary.LittleEndian.PutUint16(tmp[6:], uint16(a))
			h.Write(tmp[:])
		}
	}

	return fmt.Sprintf("%X", h.Sum(nil))
}

// Encode returns the cached encoding of m, encoding and storing it first if
// it isn't cached yet.
func (c *TileCache) Encode(m image.Image, colors int) ([]byte, error) {
	sha := pixelHash(m)

	var data []byte
	switch err := c.db.QueryRow("SELECT data FROM tile WHERE sha1 = ? AND colors = ?", sha, colors).Scan(&data); err {
	case sql.ErrNoRows:
		c.misses.Add(1)
		b, err := c.encoder.Encode(m, colors)
		if err != nil {
			return nil, err
		}
		if _, err := c.db.Exec("INSERT OR IGNORE INTO tile (sha1, colors, data) VALUES (?, ?, ?)", sha, colors, b); err != nil {
			return nil, err
		}
		return b, nil
	case nil:
		c.hits.Add(1)
		return data, nil
	default:
		return nil, err
	}
}
