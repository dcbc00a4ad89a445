package retrieve

import (
	"fmt"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/pyramid"
)

// DefaultWCSVersion is requested when the configuration names none.
const DefaultWCSVersion = "1.0.0"

// WCSStrategy sources tiles from a remote coverage service. One GetCoverage
// request is issued per tile, bounded by the tile's sector.
type WCSStrategy struct {
	params config.Params
	urls   *URLBuilder
}

// NewWCSStrategy finalizes the configuration and prepares the request
// builder.
func NewWCSStrategy(p config.Params) (*WCSStrategy, error) {
	s := &WCSStrategy{}
	final, err := s.BuildConfig(p)
	if err != nil {
		return nil, err
	}
	s.params = final
	s.urls = NewURLBuilder(final.Service, final.ServiceVersion, final.DatasetName, final.ImageFormat)
	return s, nil
}

// NewWCSStrategyFromDocuments derives the configuration from a capabilities
// and describe-coverage document pair, then builds the strategy. The pyramid
// depth is sized to the offering's declared grid resolution when the
// configuration leaves it open.
func NewWCSStrategyFromDocuments(caps config.Capabilities, desc config.CoverageDescription, p config.Params) (*WCSStrategy, error) {
	p = config.FromCoverageDocuments(caps, desc, p)
	if p.NumLevels == 0 {
		if res := finestResolution(desc); res > 0 {
			delta := p.LevelZeroTileDelta
			if delta == 0 {
				delta = 20
			}
			tileSize := p.TileWidth
			if tileSize == 0 {
				tileSize = 150
			}
			p.NumLevels = pyramid.NumLevelsForResolution(delta, tileSize, res)
		}
	}
	return NewWCSStrategy(p)
}

func finestResolution(desc config.CoverageDescription) float64 {
	x, y := desc.GridResolutionX, desc.GridResolutionY
	switch {
	case x > 0 && y > 0:
		if x < y {
			return x
		}
		return y
	case x > 0:
		return x
	case y > 0:
		return y
	}
	return 0
}

// BuildConfig validates the coverage parameters and fills the remote-path
// defaults.
func (s *WCSStrategy) BuildConfig(p config.Params) (config.Params, error) {
	if err := p.ValidateWCS(); err != nil {
		return config.Params{}, err
	}
	if p.ServiceVersion == "" {
		p.ServiceVersion = DefaultWCSVersion
	}
	p.ApplyWCSDefaults()
	return p, nil
}

// CreateRetriever builds the HTTP retriever for one tile request.
func (s *WCSStrategy) CreateRetriever(tile pyramid.Tile) (Retriever, error) {
	return s.SectorRetriever(tile.Sector, tile.Width(), tile.Height())
}

// SectorRetriever builds a retriever for an arbitrary sector and payload
// size. The whole-coverage composition path uses it for its single synthetic
// tile.
func (s *WCSStrategy) SectorRetriever(sector geo.Sector, width, height int) (Retriever, error) {
	if s.urls == nil {
		return nil, fmt.Errorf("retrieve: coverage strategy is not initialized")
	}
	return NewHTTPRetriever(s.urls.URLFor(sector, width, height)), nil
}

// LevelCount reports the configured pyramid depth, falling back to the
// remote-path default.
func (s *WCSStrategy) LevelCount(p config.Params) int {
	if p.NumLevels > 0 {
		return p.NumLevels
	}
	return 18
}

// Params returns the finalized configuration.
func (s *WCSStrategy) Params() config.Params { return s.params }
