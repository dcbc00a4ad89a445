package elevation

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/monitoring"
	"github.com/gruppe-adler/terrain/internal/raster"
	"github.com/gruppe-adler/terrain/internal/retrieve"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

// WCSModel is a tiled model backed by a remote coverage service. It behaves
// like BasicModel except for whole-sector composition, which it answers with
// a single coverage request sized to the caller's grid instead of assembling
// cached tiles.
type WCSModel struct {
	*BasicModel
	wcs *retrieve.WCSStrategy
}

var _ Model = (*WCSModel)(nil)

// NewWCSModel builds a coverage-backed model from explicit parameters.
func NewWCSModel(p config.Params, store *tilecache.Store) (*WCSModel, error) {
	strategy, err := retrieve.NewWCSStrategy(p)
	if err != nil {
		return nil, err
	}
	base, err := NewBasicModel(strategy.Params(), store, strategy)
	if err != nil {
		return nil, err
	}
	return &WCSModel{BasicModel: base, wcs: strategy}, nil
}

// NewWCSModelFromCapabilities derives the model configuration from a
// capabilities and describe-coverage document pair, with p supplying
// overrides.
func NewWCSModelFromCapabilities(caps config.Capabilities, desc config.CoverageDescription, p config.Params, store *tilecache.Store) (*WCSModel, error) {
	strategy, err := retrieve.NewWCSStrategyFromDocuments(caps, desc, p)
	if err != nil {
		return nil, err
	}
	base, err := NewBasicModel(strategy.Params(), store, strategy)
	if err != nil {
		return nil, err
	}
	return &WCSModel{BasicModel: base, wcs: strategy}, nil
}

// ComposeElevations requests one coverage spanning the whole sector at the
// caller's grid dimensions, decodes it once and samples every point from it.
// The payload lands in the file store under the expiry rule, so a repeated
// composition is answered from disk. The request is synchronous and a
// retrieval failure fails the composition.
func (m *WCSModel) ComposeElevations(ctx context.Context, sector geo.Sector, points []orb.Point, tileWidth int, buffer []float64) error {
	if err := validateCompose(sector, points, tileWidth, buffer); err != nil {
		return err
	}
	if !m.Enabled() {
		return nil
	}

	width := tileWidth
	height := len(points) / tileWidth
	if height < 1 {
		height = 1
	}

	path := m.composedPath(sector, width, height)
	var grid *raster.Grid
	if _, ok := m.store.LocateIfFresh(path, m.ExpiryTime()); ok {
		if data, err := m.store.Read(path); err == nil {
			g, err := m.decoder.Decode(data, width, height)
			if err != nil {
				monitoring.Logf("elevation: cached coverage %s is undecodable, evicting: %v", path, err)
				m.store.Remove(path)
			} else {
				grid = g
			}
		}
	}
	if grid == nil {
		if !m.NetworkRetrievalEnabled() {
			return nil
		}
		r, err := m.wcs.SectorRetriever(sector, width, height)
		if err != nil {
			return err
		}
		data, err := r.Retrieve(ctx)
		if err != nil {
			return err
		}
		if err := m.store.Put(path, data); err != nil {
			monitoring.Logf("elevation: store coverage %s: %v", path, err)
		}
		if grid, err = m.decoder.Decode(data, width, height); err != nil {
			return err
		}
	}

	signal := m.MissingDataSignal()
	for i, pt := range points {
		if geo.HasNaN(pt) {
			continue
		}
		raw := sampleGrid(grid, sector, pt.Lat(), pt.Lon(), signal)
		if raw != signal && !math.IsNaN(raw) {
			buffer[i] = raw
		}
	}
	return nil
}

// composedPath is the cache location of a whole-sector coverage. The sector
// bounds and grid dimensions key the file so distinct compositions do not
// collide.
func (m *WCSModel) composedPath(sector geo.Sector, width, height int) string {
	l := m.levels.LastLevel()
	return fmt.Sprintf("%s/composed/%v_%v_%v_%v_%dx%d%s",
		l.Path(), sector.MinLat, sector.MinLon, sector.MaxLat, sector.MaxLon, width, height, l.FormatSuffix)
}
