// Package raster holds decoded elevation sample grids and the codecs that
// produce them: the Terrain-RGB png codec, raw int16/float32 payloads, the
// Esri ASCII raster format, and a locally synthesizing raster engine that
// renders tiles from such a raster.
package raster

import "fmt"

// Grid is a decoded tile: Height rows of Width samples. Row zero is the
// northernmost sample row, matching image scan order.
type Grid struct {
	Width  int
	Height int
	Values []float64
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Values: make([]float64, width*height)}
}

// At returns the sample at the given row and column.
func (g *Grid) At(row, col int) float64 {
	return g.Values[row*g.Width+col]
}

// Set stores the sample at the given row and column.
func (g *Grid) Set(row, col int, v float64) {
	g.Values[row*g.Width+col] = v
}

func (g *Grid) validate() error {
	if len(g.Values) != g.Width*g.Height {
		return fmt.Errorf("raster: grid holds %d values, want %d", len(g.Values), g.Width*g.Height)
	}
	return nil
}
