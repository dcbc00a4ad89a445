package retrieve

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/pyramid"
	"github.com/gruppe-adler/terrain/internal/raster"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

// LocalStrategy serves tiles from a raster server backed by data in the
// shared file store. The server is described by a
// <cache-name>/<dataset-name>.RasterServer.xml resource; its descriptive
// properties are merged into the model configuration and into every retriever
// the strategy hands out.
type LocalStrategy struct {
	store    *tilecache.Store
	engine   raster.Engine
	server   config.Params
	cellSize float64
}

// NewLocalStrategy locates and loads the raster server for the dataset named
// by p. All failures are construction-time configuration errors.
func NewLocalStrategy(p config.Params, store *tilecache.Store) (*LocalStrategy, error) {
	if err := p.ValidateLocal(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &config.Error{Param: "file-store", Reason: "local raster server requires a file store"}
	}

	resource := p.CacheName + "/" + p.DatasetName + ".RasterServer.xml"
	if _, ok := store.Locate(resource); !ok {
		return nil, &config.Error{Param: resource, Reason: "raster server configuration not found in file store"}
	}
	doc, err := store.Read(resource)
	if err != nil {
		return nil, &config.Error{Param: resource, Reason: err.Error()}
	}
	cfg, err := raster.ParseServerConfig(doc)
	if err != nil {
		return nil, &config.Error{Param: resource, Reason: err.Error()}
	}

	server, err := serverParams(cfg)
	if err != nil {
		return nil, &config.Error{Param: resource, Reason: err.Error()}
	}
	// the engine renders Terrain-RGB png tiles
	if server.ImageFormat == "" {
		server.ImageFormat = "image/png"
	}
	if server.FormatSuffix == "" {
		server.FormatSuffix = ".png"
	}
	if server.MissingDataSignal == nil {
		signal := -9999.0
		server.MissingDataSignal = &signal
	}

	engine, cellSize, err := buildEngine(cfg, store, config.FloatOrDefault(server.MissingDataSignal, -9999))
	if err != nil {
		return nil, &config.Error{Param: resource, Reason: err.Error()}
	}

	return &LocalStrategy{store: store, engine: engine, server: server, cellSize: cellSize}, nil
}

// serverParams maps the descriptor's property list onto typed parameters.
func serverParams(cfg *raster.ServerConfig) (config.Params, error) {
	p := config.Params{
		DatasetName:  cfg.Property("DatasetName"),
		DisplayName:  cfg.Property("DisplayName"),
		ByteOrder:    cfg.Property("ByteOrder"),
		ImageFormat:  cfg.Property("ImageFormat"),
		DataType:     cfg.Property("DataType"),
		FormatSuffix: cfg.Property("FormatSuffix"),
	}
	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{"MissingDataSignal", &p.MissingDataSignal},
		{"MissingDataReplacement", &p.MissingDataReplacement},
		{"ElevationMin", &p.ElevationMin},
		{"ElevationMax", &p.ElevationMax},
	} {
		raw := cfg.Property(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return config.Params{}, fmt.Errorf("property %s: %w", f.name, err)
		}
		*f.dst = &v
	}
	return p, nil
}

// buildEngine loads the first supported data source of the descriptor.
func buildEngine(cfg *raster.ServerConfig, store *tilecache.Store, missing float64) (raster.Engine, float64, error) {
	for _, src := range cfg.Sources {
		if src.Type != "" && src.Type != "EsriASCIIRaster" {
			continue
		}
		full, ok := store.Locate(src.Path)
		if !ok {
			return nil, 0, fmt.Errorf("data source %s not found in file store", src.Path)
		}
		dem, err := raster.ReadEsriASCIIRaster(full)
		if err != nil {
			return nil, 0, err
		}
		engine, err := raster.NewDEMEngine(dem, missing)
		if err != nil {
			return nil, 0, err
		}
		return engine, dem.CellSize, nil
	}
	return nil, 0, fmt.Errorf("no supported data source declared")
}

// BuildConfig merges the server's descriptive properties into p, bounds the
// pyramid by the engine's coverage when no sector is configured and fills the
// remaining tiled-model defaults.
func (s *LocalStrategy) BuildConfig(p config.Params) (config.Params, error) {
	if err := p.ValidateLocal(); err != nil {
		return config.Params{}, err
	}

	fillDescriptiveParams(&p, s.server)
	if p.Sector == nil {
		if bounded, ok := s.engine.(interface{ Bounds() geo.Sector }); ok {
			sector := bounded.Bounds()
			p.Sector = &sector
		}
	}
	if p.Sector == nil || !p.Sector.IsValid() {
		return config.Params{}, config.MissingParam("bounding-sector")
	}
	if p.LevelZeroTileDelta == 0 {
		p.LevelZeroTileDelta = 20
	}
	if p.NumLevels == 0 {
		p.NumLevels = s.LevelCount(p)
	}
	p.ApplyBasicDefaults()
	return p, nil
}

// CreateRetriever hands out an engine-backed retriever carrying a copy of the
// server's descriptive parameters.
func (s *LocalStrategy) CreateRetriever(tile pyramid.Tile) (Retriever, error) {
	var params config.Params
	fillDescriptiveParams(&params, s.server)
	return &EngineRetriever{
		Engine: s.engine,
		Sector: tile.Sector,
		Width:  tile.Width(),
		Height: tile.Height(),
		Params: params,
		Store:  s.store,
	}, nil
}

// LevelCount derives the pyramid depth from the source grid's native cell
// size, unless the configuration pins one.
func (s *LocalStrategy) LevelCount(p config.Params) int {
	if p.NumLevels > 0 {
		return p.NumLevels
	}
	delta := p.LevelZeroTileDelta
	if delta == 0 {
		delta = 20
	}
	tileSize := p.TileHeight
	if tileSize == 0 {
		tileSize = 150
	}
	return pyramid.NumLevelsForResolution(delta, tileSize, s.cellSize)
}

// Engine exposes the strategy's tile source.
func (s *LocalStrategy) Engine() raster.Engine { return s.engine }

// EngineRetriever renders one tile through a local engine. Params carries the
// descriptive parameters of the raster server that produced the payload, and
// Store the file store the server was loaded from.
type EngineRetriever struct {
	Engine raster.Engine
	Sector geo.Sector
	Width  int
	Height int
	Params config.Params
	Store  *tilecache.Store
}

// Retrieve renders the tile payload.
func (r *EngineRetriever) Retrieve(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Source: r.source(), Err: err}
	}
	data, err := r.Engine.RenderTile(r.Sector, r.Width, r.Height)
	if err != nil {
		return nil, &Error{Source: r.source(), Err: err}
	}
	return data, nil
}

func (r *EngineRetriever) source() string {
	return fmt.Sprintf("local tile %v", r.Sector)
}
