/*
Package tile implements the encoder for a single atlas tile.

Each tile is reduced to a palette of at most 64 colors without dithering and
stored as a paletted PNG. The palette is sorted before encoding so the same
pixels always produce the same bytes.
*/
package tile

// MaxColors is the largest palette a tile may use
const MaxColors = 64
