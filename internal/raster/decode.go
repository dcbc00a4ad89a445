package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"github.com/gruppe-adler/terrain/internal/config"
)

// Decoder turns a retrieved tile payload into a sample grid of the given
// pixel dimensions. Decoding specific raster encodings is a collaborator
// concern; this package ships the codecs the models use by default and
// callers may supply their own.
type Decoder interface {
	Decode(data []byte, width, height int) (*Grid, error)
}

// DecoderFor selects a decoder for an image format and raw payload layout.
// Unsupported formats yield a decoder whose Decode always fails, so the
// failure surfaces as a per-tile retrieval error rather than at model
// construction.
func DecoderFor(imageFormat, dataType, byteOrder string) Decoder {
	switch {
	case strings.Contains(imageFormat, "png"):
		return TerrainRGBDecoder{}
	case strings.Contains(imageFormat, "bil"), imageFormat == "":
		var order binary.ByteOrder = binary.LittleEndian
		if byteOrder == config.BigEndian {
			order = binary.BigEndian
		}
		return RawDecoder{DataType: dataType, Order: order}
	default:
		return unsupportedDecoder{format: imageFormat}
	}
}

// TerrainRGBDecoder reads png tiles carrying Terrain-RGB packed heights.
type TerrainRGBDecoder struct{}

func (TerrainRGBDecoder) Decode(data []byte, width, height int) (*Grid, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("raster: decode png tile: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("raster: png tile is %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}

	g := NewGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			g.Set(y, x, RGBAToHeight(c))
		}
	}
	return g, nil
}

// RawDecoder reads headerless sample payloads (the classic .bil layout).
type RawDecoder struct {
	DataType string
	Order    binary.ByteOrder
}

func (d RawDecoder) Decode(data []byte, width, height int) (*Grid, error) {
	n := width * height
	switch d.DataType {
	case config.Float32:
		if len(data) != n*4 {
			return nil, fmt.Errorf("raster: float32 tile payload is %d bytes, want %d", len(data), n*4)
		}
		g := NewGrid(width, height)
		for i := 0; i < n; i++ {
			g.Values[i] = float64(math.Float32frombits(d.Order.Uint32(data[i*4:])))
		}
		return g, nil
	case config.Int16, "":
		if len(data) != n*2 {
			return nil, fmt.Errorf("raster: int16 tile payload is %d bytes, want %d", len(data), n*2)
		}
		g := NewGrid(width, height)
		for i := 0; i < n; i++ {
			g.Values[i] = float64(int16(d.Order.Uint16(data[i*2:])))
		}
		return g, nil
	default:
		return nil, fmt.Errorf("raster: unsupported data type %q", d.DataType)
	}
}

type unsupportedDecoder struct {
	format string
}

func (d unsupportedDecoder) Decode([]byte, int, int) (*Grid, error) {
	return nil, fmt.Errorf("raster: no decoder for image format %q", d.format)
}

// EncodeTerrainRGB renders a grid as a Terrain-RGB png, the inverse of
// TerrainRGBDecoder.
func EncodeTerrainRGB(g *Grid) ([]byte, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			img.SetRGBA(x, y, HeightToRGBA(g.At(y, x)))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("raster: encode png tile: %w", err)
	}
	return buf.Bytes(), nil
}
