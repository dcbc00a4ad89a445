package raster

import (
	"image/color"
	"math"
)

// Terrain-RGB packs a height into 24 bits of RGB:
//
//	height = -10000 + ((R*256*256 + G*256 + B) * 0.1)
//
// Encoding solves for x = 10*height + 100000 and writes x as a base-256
// number with R the most significant digit.

var maxPackedHeight = int64(math.Pow(256, 3) - 1)

// HeightToRGBA encodes a height in meters as a Terrain-RGB pixel.
func HeightToRGBA(height float64) color.RGBA {
	x := int64(10*height+100000) % maxPackedHeight

	b := uint8(x % 256)
	x /= 256
	g := uint8(x % 256)
	x /= 256
	r := uint8(x % 256)

	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// RGBAToHeight decodes a Terrain-RGB pixel back into meters.
func RGBAToHeight(c color.RGBA) float64 {
	x := int64(c.R)*256*256 + int64(c.G)*256 + int64(c.B)
	return -10000.0 + float64(x)*0.1
}
