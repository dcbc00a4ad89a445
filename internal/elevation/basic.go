package elevation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/monitoring"
	"github.com/gruppe-adler/terrain/internal/pyramid"
	"github.com/gruppe-adler/terrain/internal/raster"
	"github.com/gruppe-adler/terrain/internal/retrieve"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

// fetchConcurrency bounds the number of tile retrievals in flight per model.
const fetchConcurrency = 4

// errTileUnavailable reports that a tile is in no cache and cannot be fetched
// right now.
var errTileUnavailable = errors.New("elevation: tile unavailable")

// BasicModel is the generic tiled elevation model. Tiles flow through three
// stages: an in-memory grid cache, the shared file store and, when allowed,
// the retrieval strategy. Repeatedly failing tiles are parked on an absent
// list so they cannot stall composition.
type BasicModel struct {
	Base

	params   config.Params
	levels   *pyramid.LevelSet
	store    *tilecache.Store
	strategy retrieve.Strategy
	absent   *pyramid.AbsentList
	decoder  raster.Decoder
	extremes *extremesGrid

	minElev float64
	maxElev float64

	fetchSem   *semaphore.Weighted
	fetchGroup singleflight.Group

	tileMu sync.RWMutex
	tiles  map[pyramid.Address]*memoryEntry
}

// memoryEntry is a decoded tile plus the time it entered the in-memory cache,
// so the expiry cutoff applies to memory the same way it applies to the file
// store.
type memoryEntry struct {
	grid   *raster.Grid
	loaded time.Time
}

var _ Model = (*BasicModel)(nil)

// NewBasicModel builds a tiled model from the configuration, finalized by the
// given strategy. Construction failures are *config.Error values where a
// parameter is at fault.
func NewBasicModel(p config.Params, store *tilecache.Store, strategy retrieve.Strategy) (*BasicModel, error) {
	if store == nil {
		return nil, &config.Error{Param: "file-store", Reason: "a tiled model requires a file store"}
	}
	if strategy == nil {
		return nil, fmt.Errorf("elevation: model requires a retrieval strategy")
	}

	final, err := strategy.BuildConfig(p)
	if err != nil {
		return nil, err
	}
	if final.Sector == nil || !final.Sector.IsValid() {
		return nil, config.MissingParam("bounding-sector")
	}

	levels, err := pyramid.NewLevelSet(pyramid.Params{
		Sector:             *final.Sector,
		LevelZeroTileDelta: final.LevelZeroTileDelta,
		TileWidth:          final.TileWidth,
		TileHeight:         final.TileHeight,
		NumLevels:          final.NumLevels,
		NumEmptyLevels:     config.IntOrDefault(final.NumEmptyLevels, 0),
		CacheName:          final.CacheName,
		DatasetName:        final.DatasetName,
		FormatSuffix:       final.FormatSuffix,
		Service:            final.Service,
	})
	if err != nil {
		return nil, err
	}

	// the generic default signal is a sentinel no real dataset produces;
	// strategies install their own (-9999 on the coverage path)
	signal := config.FloatOrDefault(final.MissingDataSignal, -math.MaxFloat64)
	name := final.DisplayName
	if name == "" {
		name = final.DatasetName
	}
	var expiry time.Time
	if final.ExpiryTime > 0 {
		expiry = time.UnixMilli(final.ExpiryTime)
	}

	m := &BasicModel{
		Base: newBase(
			name,
			signal,
			config.FloatOrDefault(final.MissingDataReplacement, 0),
			final.DetailHint,
			config.BoolOrDefault(final.NetworkRetrievalEnabled, true),
			expiry,
		),
		params:   final,
		levels:   levels,
		store:    store,
		strategy: strategy,
		absent: pyramid.NewAbsentList(
			final.MaxAbsentTileAttempts,
			time.Duration(final.MinAbsentTileCheckInterval)*time.Millisecond,
		),
		decoder:  raster.DecoderFor(final.ImageFormat, final.DataType, final.ByteOrder),
		minElev:  config.FloatOrDefault(final.ElevationMin, -11000),
		maxElev:  config.FloatOrDefault(final.ElevationMax, 8850),
		fetchSem: semaphore.NewWeighted(fetchConcurrency),
		tiles:    make(map[pyramid.Address]*memoryEntry),
	}

	if final.ElevationExtremesFile != "" {
		extremes, err := loadExtremesGrid(store, final.ElevationExtremesFile, final.LevelZeroTileDelta)
		if err != nil {
			monitoring.Logf("elevation: extremes resource %s unavailable: %v", final.ElevationExtremesFile, err)
		} else {
			m.extremes = extremes
		}
	}

	return m, nil
}

// Params returns the finalized configuration the model was built from.
func (m *BasicModel) Params() config.Params { return m.params }

// Levels returns the model's tile pyramid.
func (m *BasicModel) Levels() *pyramid.LevelSet { return m.levels }

// Sector returns the model's geographic extent.
func (m *BasicModel) Sector() geo.Sector { return m.levels.Sector() }

// Contains reports whether the position lies within the model's extent.
func (m *BasicModel) Contains(lat, lon float64) bool {
	return m.levels.Sector().ContainsLatLon(lat, lon)
}

// MinElevation returns the dataset's lower elevation bound.
func (m *BasicModel) MinElevation() float64 { return m.minElev }

// MaxElevation returns the dataset's upper elevation bound.
func (m *BasicModel) MaxElevation() float64 { return m.maxElev }

// BestResolution returns the finest level's resolution in degrees per sample.
// A sector outside the model's extent yields NaN.
func (m *BasicModel) BestResolution(sector *geo.Sector) float64 {
	if sector != nil && !sector.Intersects(m.levels.Sector()) {
		return math.NaN()
	}
	return m.levels.LastLevel().TexelSize()
}

// Elevation returns the mapped elevation at a position.
func (m *BasicModel) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	raw, err := m.UnmappedElevation(ctx, lat, lon)
	if err != nil {
		return 0, err
	}
	return m.mapElevation(raw), nil
}

// UnmappedElevation returns the raw sample at a position from the finest
// level, or the missing-data signal when the position is outside the model or
// its tile cannot be obtained.
func (m *BasicModel) UnmappedElevation(ctx context.Context, lat, lon float64) (float64, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, fmt.Errorf("%w: position %v,%v", ErrInvalidArgument, lat, lon)
	}
	if !m.Enabled() || !m.Contains(lat, lon) {
		return m.MissingDataSignal(), nil
	}
	last := m.levels.LastLevel()
	grid, tile, err := m.tileAt(ctx, last.Index, lat, lon)
	if err != nil {
		return m.MissingDataSignal(), nil
	}
	return sampleGrid(grid, tile.Sector, lat, lon, m.MissingDataSignal()), nil
}

// Elevations fills buffer with mapped elevations at the target resolution.
// Points whose tile is unavailable at the target level fall back to the
// coarsest cached data; points with nothing available keep their slot. The
// achieved resolution is returned.
func (m *BasicModel) Elevations(ctx context.Context, sector geo.Sector, points []orb.Point, targetResolution float64, buffer []float64) (float64, error) {
	if !sector.IsValid() {
		return 0, fmt.Errorf("%w: invalid sector %v", ErrInvalidArgument, sector)
	}
	if points == nil {
		return 0, fmt.Errorf("%w: points must not be nil", ErrInvalidArgument)
	}
	if buffer == nil {
		return 0, fmt.Errorf("%w: buffer must not be nil", ErrInvalidArgument)
	}
	if len(buffer) < len(points) {
		return 0, fmt.Errorf("%w: buffer holds %d of %d points", ErrInvalidArgument, len(buffer), len(points))
	}
	if !m.Enabled() {
		return 0, nil
	}

	target := m.levels.TargetLevel(targetResolution)
	if target == nil {
		return 0, fmt.Errorf("elevation: target resolution %v falls on an empty level", targetResolution)
	}

	achieved := target.TexelSize()
	signal := m.MissingDataSignal()
	grids := m.fetchTiles(ctx, target.Index, points)
	for i, pt := range points {
		lat, lon := pt.Lat(), pt.Lon()
		if !m.Contains(lat, lon) {
			continue
		}

		addr := m.levels.AddressFor(target.Index, lat, lon)
		grid, ok := grids[addr]
		tile := m.levels.TileFor(addr)
		if !ok {
			// fall back to the finest level already cached
			var err error
			grid, tile, err = m.cachedTileBelow(target.Index, lat, lon)
			if err != nil {
				continue
			}
		}
		raw := sampleGrid(grid, tile.Sector, lat, lon, signal)
		buffer[i] = m.mapElevation(raw)
		if ts := tile.Level.TexelSize(); ts > achieved {
			achieved = ts
		}
	}
	return achieved, nil
}

// GetElevations adapts Elevations to the multi-resolution form. Only the
// first target resolution is consulted; the result holds the single achieved
// resolution.
func (m *BasicModel) GetElevations(ctx context.Context, sector geo.Sector, points []orb.Point, targetResolutions []float64, buffer []float64) ([]float64, error) {
	if len(targetResolutions) == 0 {
		return nil, fmt.Errorf("%w: target resolutions must not be empty", ErrInvalidArgument)
	}
	achieved, err := m.Elevations(ctx, sector, points, targetResolutions[0], buffer)
	if err != nil {
		return nil, err
	}
	return []float64{achieved}, nil
}

// BestResolutions adapts BestResolution to the multi-resolution form.
func (m *BasicModel) BestResolutions(sector *geo.Sector) []float64 {
	return []float64{m.BestResolution(sector)}
}

// ComposeElevations populates buffer from the finest level. A slot is written
// only when its raw sample differs from the missing-data signal.
func (m *BasicModel) ComposeElevations(ctx context.Context, sector geo.Sector, points []orb.Point, tileWidth int, buffer []float64) error {
	if err := validateCompose(sector, points, tileWidth, buffer); err != nil {
		return err
	}
	if !m.Enabled() {
		return nil
	}

	last := m.levels.LastLevel()
	signal := m.MissingDataSignal()
	grids := m.fetchTiles(ctx, last.Index, points)
	for i, pt := range points {
		lat, lon := pt.Lat(), pt.Lon()
		if geo.HasNaN(pt) || !m.Contains(lat, lon) {
			continue
		}
		addr := m.levels.AddressFor(last.Index, lat, lon)
		grid, ok := grids[addr]
		if !ok {
			continue
		}
		raw := sampleGrid(grid, m.levels.TileFor(addr).Sector, lat, lon, signal)
		if raw != signal && !math.IsNaN(raw) {
			buffer[i] = raw
		}
	}
	return nil
}

// fetchTiles resolves the distinct tiles owning the points on a level. Tiles
// not yet cached are fetched concurrently, bounded by the shared fetch
// semaphore; tiles that cannot be obtained are simply absent from the result.
func (m *BasicModel) fetchTiles(ctx context.Context, level int, points []orb.Point) map[pyramid.Address]*raster.Grid {
	distinct := make(map[pyramid.Address]pyramid.Tile)
	for _, pt := range points {
		lat, lon := pt.Lat(), pt.Lon()
		if geo.HasNaN(pt) || !m.Contains(lat, lon) {
			continue
		}
		addr := m.levels.AddressFor(level, lat, lon)
		if _, ok := distinct[addr]; !ok {
			distinct[addr] = m.levels.TileFor(addr)
		}
	}

	var mu sync.Mutex
	grids := make(map[pyramid.Address]*raster.Grid, len(distinct))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for addr, tile := range distinct {
		addr, tile := addr, tile
		g.Go(func() error {
			grid, err := m.getTile(ctx, addr, tile)
			if err != nil {
				// per-tile failures leave the slot unresolved
				return nil
			}
			mu.Lock()
			grids[addr] = grid
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return grids
}

// ExtremeElevations returns the expected elevation extremes within the
// sector, from the precomputed extremes grid when one is loaded and the
// dataset bounds otherwise.
func (m *BasicModel) ExtremeElevations(sector geo.Sector) (float64, float64) {
	if m.extremes != nil {
		if min, max, ok := m.extremes.extremes(sector); ok {
			return min, max
		}
	}
	return m.minElev, m.maxElev
}

// Prefetch downloads every tile of the resolution's target level
// intersecting the sector into the file store. Tiles already cached and
// fresh are skipped; individual retrieval failures are logged, marked and
// skipped. The number of newly stored tiles is returned. A non-positive
// resolution targets the finest level.
func (m *BasicModel) Prefetch(ctx context.Context, sector geo.Sector, resolution float64) (int, error) {
	if !m.NetworkRetrievalEnabled() {
		return 0, fmt.Errorf("elevation: prefetch requires network retrieval")
	}
	if !sector.IsValid() {
		return 0, fmt.Errorf("%w: invalid sector %v", ErrInvalidArgument, sector)
	}

	target := m.levels.LastLevel()
	if resolution > 0 {
		if target = m.levels.TargetLevel(resolution); target == nil {
			return 0, fmt.Errorf("elevation: resolution %v falls on an empty level", resolution)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	var stored atomic.Int64
	for _, tile := range m.levels.TilesInSector(target.Index, sector) {
		tile := tile
		g.Go(func() error {
			path := tile.Path()
			if _, ok := m.store.LocateIfFresh(path, m.ExpiryTime()); ok {
				return nil
			}
			if m.absent.IsAbsent(tile.Addr) {
				return nil
			}
			r, err := m.strategy.CreateRetriever(tile)
			if err != nil {
				return err
			}
			data, err := r.Retrieve(ctx)
			if err != nil {
				m.absent.MarkAbsent(tile.Addr)
				monitoring.Logf("elevation: prefetch %v: %v", tile.Addr, err)
				return nil
			}
			if err := m.store.Put(path, data); err != nil {
				return err
			}
			m.absent.Unmark(tile.Addr)
			stored.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(stored.Load()), err
}

// tileAt resolves the tile containing the position on the given level.
func (m *BasicModel) tileAt(ctx context.Context, level int, lat, lon float64) (*raster.Grid, pyramid.Tile, error) {
	addr := m.levels.AddressFor(level, lat, lon)
	tile := m.levels.TileFor(addr)
	grid, err := m.getTile(ctx, addr, tile)
	return grid, tile, err
}

// cachedTileBelow walks from the given level toward level zero and returns
// the first tile already decoded in memory or present in the file store. It
// never reaches for the network.
func (m *BasicModel) cachedTileBelow(level int, lat, lon float64) (*raster.Grid, pyramid.Tile, error) {
	for li := level; li >= 0; li-- {
		l := m.levels.Level(li)
		if l.Empty {
			break
		}
		addr := m.levels.AddressFor(li, lat, lon)
		tile := m.levels.TileFor(addr)

		if grid := m.memoryTile(addr); grid != nil {
			return grid, tile, nil
		}
		if grid, err := m.storedTile(addr, tile); err == nil {
			return grid, tile, nil
		}
	}
	return nil, pyramid.Tile{}, errTileUnavailable
}

// getTile obtains a decoded tile: memory first, then the file store, then the
// retrieval strategy. Concurrent requests for the same tile share one fetch.
func (m *BasicModel) getTile(ctx context.Context, addr pyramid.Address, tile pyramid.Tile) (*raster.Grid, error) {
	if grid := m.memoryTile(addr); grid != nil {
		return grid, nil
	}
	if grid, err := m.storedTile(addr, tile); err == nil {
		return grid, nil
	}

	if !m.NetworkRetrievalEnabled() {
		return nil, errTileUnavailable
	}
	if m.absent.IsAbsent(addr) {
		return nil, fmt.Errorf("%w: %v exhausted its retrieval attempts", errTileUnavailable, addr)
	}

	v, err, _ := m.fetchGroup.Do(tile.Path(), func() (interface{}, error) {
		if err := m.fetchSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer m.fetchSem.Release(1)

		r, err := m.strategy.CreateRetriever(tile)
		if err != nil {
			return nil, err
		}
		data, err := r.Retrieve(ctx)
		if err != nil {
			m.absent.MarkAbsent(addr)
			return nil, err
		}
		if err := m.store.Put(tile.Path(), data); err != nil {
			monitoring.Logf("elevation: store tile %v: %v", addr, err)
		}
		grid, err := m.decoder.Decode(data, tile.Width(), tile.Height())
		if err != nil {
			m.absent.MarkAbsent(addr)
			return nil, err
		}
		m.absent.Unmark(addr)
		m.putMemoryTile(addr, grid)
		return grid, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*raster.Grid), nil
}

// memoryTile returns the in-memory tile, evicting entries that predate the
// expiry cutoff so SetExpiryTime invalidates memory, not just the file store.
func (m *BasicModel) memoryTile(addr pyramid.Address) *raster.Grid {
	m.tileMu.RLock()
	e := m.tiles[addr]
	m.tileMu.RUnlock()
	if e == nil {
		return nil
	}
	if expiry := m.ExpiryTime(); !expiry.IsZero() && e.loaded.Before(expiry) {
		m.tileMu.Lock()
		if m.tiles[addr] == e {
			delete(m.tiles, addr)
		}
		m.tileMu.Unlock()
		return nil
	}
	return e.grid
}

func (m *BasicModel) putMemoryTile(addr pyramid.Address, grid *raster.Grid) {
	m.tileMu.Lock()
	defer m.tileMu.Unlock()
	m.tiles[addr] = &memoryEntry{grid: grid, loaded: time.Now()}
}

// storedTile reads and decodes a tile from the file store. Undecodable
// entries are evicted so the next retrieval replaces them.
func (m *BasicModel) storedTile(addr pyramid.Address, tile pyramid.Tile) (*raster.Grid, error) {
	path := tile.Path()
	if _, ok := m.store.LocateIfFresh(path, m.ExpiryTime()); !ok {
		return nil, errTileUnavailable
	}
	data, err := m.store.Read(path)
	if err != nil {
		return nil, err
	}
	grid, err := m.decoder.Decode(data, tile.Width(), tile.Height())
	if err != nil {
		monitoring.Logf("elevation: cached tile %v is undecodable, evicting: %v", addr, err)
		m.store.Remove(path)
		return nil, err
	}
	m.putMemoryTile(addr, grid)
	return grid, nil
}

// sampleGrid bilinearly interpolates the grid at a position within its
// sector. Row zero is the sector's northern edge. When any contributing
// sample equals the signal the signal is returned untouched, so missing data
// never bleeds into neighbors.
func sampleGrid(g *raster.Grid, sector geo.Sector, lat, lon, signal float64) float64 {
	if g.Width < 1 || g.Height < 1 {
		return signal
	}

	xf := 0.0
	if d := sector.DeltaLon(); d > 0 {
		xf = (lon - sector.MinLon) / d * float64(g.Width-1)
	}
	yf := 0.0
	if d := sector.DeltaLat(); d > 0 {
		yf = (sector.MaxLat - lat) / d * float64(g.Height-1)
	}
	xf = clampFloat(xf, 0, float64(g.Width-1))
	yf = clampFloat(yf, 0, float64(g.Height-1))

	x0, y0 := int(xf), int(yf)
	x1, y1 := x0, y0
	if x1 < g.Width-1 {
		x1++
	}
	if y1 < g.Height-1 {
		y1++
	}

	v00 := g.At(y0, x0)
	v10 := g.At(y0, x1)
	v01 := g.At(y1, x0)
	v11 := g.At(y1, x1)
	for _, v := range [4]float64{v00, v10, v01, v11} {
		if v == signal || math.IsNaN(v) {
			return signal
		}
	}

	fx := xf - float64(x0)
	fy := yf - float64(y0)
	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
