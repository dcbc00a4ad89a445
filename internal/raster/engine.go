package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/nfnt/resize"

	"github.com/gruppe-adler/terrain/internal/geo"
)

// Engine synthesizes tile payloads from a local data source. It is the
// counterpart of a remote coverage service for datasets already on disk.
type Engine interface {
	// RenderTile produces the payload of a tile covering the sector at the
	// given pixel dimensions.
	RenderTile(sector geo.Sector, width, height int) ([]byte, error)
}

// DEMEngine renders Terrain-RGB png tiles from an Esri ASCII grid whose
// coordinates are interpreted as lon/lat degrees. Samples outside the grid
// or matching its no-data value are written as the missing-data signal.
type DEMEngine struct {
	dem     *EsriASCIIRaster
	missing float64
}

// NewDEMEngine wraps a parsed grid. missing is the signal written for
// uncovered or no-data cells.
func NewDEMEngine(dem *EsriASCIIRaster, missing float64) (*DEMEngine, error) {
	if dem == nil {
		return nil, fmt.Errorf("raster: engine needs a source grid")
	}
	if dem.Ncols == 0 || dem.Nrows == 0 {
		return nil, fmt.Errorf("raster: engine source grid is empty")
	}
	return &DEMEngine{dem: dem, missing: missing}, nil
}

// Bounds returns the sector covered by the engine's source grid.
func (e *DEMEngine) Bounds() geo.Sector {
	return geo.NewSector(e.dem.South(), e.dem.North(), e.dem.West(), e.dem.East())
}

// RenderTile rasterizes the sector at the grid's native cell resolution and
// rescales to the requested tile dimensions. Nearest-neighbor scaling keeps
// the packed Terrain-RGB channels intact; any interpolating kernel would mix
// height digits.
func (e *DEMEngine) RenderTile(sector geo.Sector, width, height int) ([]byte, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("raster: tile dimensions must be positive, got %dx%d", width, height)
	}
	if !sector.IsValid() || sector.DeltaLat() == 0 || sector.DeltaLon() == 0 {
		return nil, fmt.Errorf("raster: cannot render degenerate sector %v", sector)
	}

	nativeW := clampPixels(int(math.Ceil(sector.DeltaLon() / e.dem.CellSize)))
	nativeH := clampPixels(int(math.Ceil(sector.DeltaLat() / e.dem.CellSize)))

	img := image.NewRGBA(image.Rect(0, 0, nativeW, nativeH))
	for y := 0; y < nativeH; y++ {
		lat := sector.MaxLat - (float64(y)+0.5)/float64(nativeH)*sector.DeltaLat()
		for x := 0; x < nativeW; x++ {
			lon := sector.MinLon + (float64(x)+0.5)/float64(nativeW)*sector.DeltaLon()

			v := e.missing
			if sample, ok := e.dem.SampleAt(lon, lat); ok && sample != e.dem.NoDataValue {
				v = sample
			}
			img.SetRGBA(x, y, HeightToRGBA(v))
		}
	}

	scaled := resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("raster: encode rendered tile: %w", err)
	}
	return buf.Bytes(), nil
}

func clampPixels(n int) int {
	const maxNative = 4096
	if n < 1 {
		return 1
	}
	if n > maxNative {
		return maxNative
	}
	return n
}
