package retrieve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/pyramid"
	"github.com/gruppe-adler/terrain/internal/raster"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

func TestURLBuilder(t *testing.T) {
	b := NewURLBuilder("https://elev.example.com/wcs?key=value&", "1.0.0", "dem", "image/tiff")

	got := b.URLFor(geo.NewSector(20, 21, 10, 11), 256, 128)
	want := "https://elev.example.com/wcs?key=value&" +
		"service=WCS&request=GetCoverage&version=1.0.0&crs=EPSG:4326" +
		"&coverage=dem&format=image/tiff" +
		"&width=256&height=128&bbox=10.0,20.0,11.0,21.0&"
	assert.Equal(t, want, got)

	// the prefix is memoized; a second tile must still come out right
	got = b.URLFor(geo.NewSector(-90, -89.5, -180, -179.5), 150, 150)
	assert.Contains(t, got, "&bbox=-180.0,-90.0,-179.5,-89.5&")
}

func TestURLBuilderKeepsExistingServiceParam(t *testing.T) {
	b := NewURLBuilder("https://example.com/wcs?SERVICE=WCS", "1.0.0", "dem", "image/tiff")
	got := b.URLFor(geo.NewSector(0, 1, 0, 1), 10, 10)
	assert.NotContains(t, got, "service=WCS")
	assert.Contains(t, got, "SERVICE=WCS&request=GetCoverage")
}

func TestURLBuilderEscapesSpaces(t *testing.T) {
	b := NewURLBuilder("https://example.com/wcs?", "1.0.0", "my coverage", "image/tiff")
	got := b.URLFor(geo.NewSector(0, 1, 0, 1), 10, 10)
	assert.Contains(t, got, "coverage=my%20coverage")
	assert.NotContains(t, got, " ")
}

func TestFormatDegrees(t *testing.T) {
	assert.Equal(t, "10.0", formatDegrees(10))
	assert.Equal(t, "-180.0", formatDegrees(-180))
	assert.Equal(t, "10.5", formatDegrees(10.5))
	assert.Equal(t, "0.0002", formatDegrees(0.0002))
}

func TestHTTPRetriever(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(payload)
		case "/exception":
			w.Header().Set("Content-Type", "application/vnd.ogc.se_xml")
			w.Write([]byte("<ServiceExceptionReport/>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	got, err := NewHTTPRetriever(ts.URL + "/ok").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = NewHTTPRetriever(ts.URL + "/missing").Retrieve(context.Background())
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Source, "/missing")

	// an exception document with a success status is still a failure
	_, err = NewHTTPRetriever(ts.URL + "/exception").Retrieve(context.Background())
	assert.ErrorAs(t, err, &rerr)
}

func TestHTTPRetrieverDefaults(t *testing.T) {
	r := NewHTTPRetriever("https://example.com")
	assert.Equal(t, DefaultConnectTimeout, r.ConnectTimeout)
	assert.Equal(t, DefaultReadTimeout, r.ReadTimeout)
}

func wcsParams() config.Params {
	sector := geo.NewSector(-90, 90, -180, 180)
	return config.Params{
		DatasetName:      "dem",
		CacheName:        "Earth/DEM",
		Service:          "https://example.com/wcs?",
		ImageFormat:      "image/tiff",
		CoordinateSystem: config.CRSEPSG4326,
		Sector:           &sector,
	}
}

func TestWCSStrategyBuildConfig(t *testing.T) {
	s, err := NewWCSStrategy(wcsParams())
	require.NoError(t, err)

	final := s.Params()
	assert.Equal(t, DefaultWCSVersion, final.ServiceVersion)
	assert.Equal(t, 18, final.NumLevels)
	assert.Equal(t, ".tif", final.FormatSuffix)
	assert.Equal(t, 20.0, final.LevelZeroTileDelta)
	assert.Equal(t, -9999.0, config.FloatOrDefault(final.MissingDataSignal, 0))
	assert.Equal(t, config.DefaultExtremesFile, final.ElevationExtremesFile)
}

func TestWCSStrategyRejectsIncompleteConfig(t *testing.T) {
	cases := []struct {
		param  string
		mutate func(*config.Params)
	}{
		{"dataset-name", func(p *config.Params) { p.DatasetName = "" }},
		{"service-endpoint", func(p *config.Params) { p.Service = "" }},
		{"image-format", func(p *config.Params) { p.ImageFormat = "" }},
		{"coordinate-system", func(p *config.Params) { p.CoordinateSystem = "EPSG:3857" }},
	}
	for _, tc := range cases {
		t.Run(tc.param, func(t *testing.T) {
			p := wcsParams()
			tc.mutate(&p)
			_, err := NewWCSStrategy(p)
			var cerr *config.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.param, cerr.Param)
		})
	}
}

func TestWCSStrategyFromDocumentsSizesPyramid(t *testing.T) {
	caps := config.Capabilities{Version: "1.0.0", GetCoverageURL: "https://example.com/wcs?"}
	desc := config.CoverageDescription{
		Identifier:      "dem",
		Label:           "Global DEM",
		LonLatEnvelope:  geo.NewSector(-90, 90, -180, 180),
		NativeFormat:    "image/tiff",
		GridResolutionX: 0.0002,
		GridResolutionY: 0.0004,
	}

	s, err := NewWCSStrategyFromDocuments(caps, desc, config.Params{CacheName: "Earth/DEM"})
	require.NoError(t, err)

	final := s.Params()
	assert.Equal(t, "dem", final.DatasetName)
	assert.Equal(t, "Global DEM", final.DisplayName)
	// ceil(log2(20 / (0.0002 * 150))) + 1
	assert.Equal(t, 11, final.NumLevels)
}

func TestWCSStrategyCreateRetriever(t *testing.T) {
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/tiff")
		w.Write([]byte{1, 2, 3})
	}))
	defer ts.Close()

	p := wcsParams()
	p.Service = ts.URL + "/wcs?"
	s, err := NewWCSStrategy(p)
	require.NoError(t, err)

	ls := levelSetForTest(t, s.Params())
	r, err := s.CreateRetriever(ls.TileFor(pyramid.Address{Level: 0, Row: 0, Col: 0}))
	require.NoError(t, err)

	data, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Contains(t, query, "request=GetCoverage")
	assert.Contains(t, query, "coverage=dem")
	assert.Contains(t, query, "bbox=-180.0,-90.0,-160.0,-70.0&")
}

func levelSetForTest(t *testing.T, p config.Params) *pyramid.LevelSet {
	t.Helper()
	ls, err := pyramid.NewLevelSet(pyramid.Params{
		Sector:             *p.Sector,
		LevelZeroTileDelta: p.LevelZeroTileDelta,
		TileWidth:          p.TileWidth,
		TileHeight:         p.TileHeight,
		NumLevels:          p.NumLevels,
		NumEmptyLevels:     config.IntOrDefault(p.NumEmptyLevels, 0),
		CacheName:          p.CacheName,
		DatasetName:        p.DatasetName,
		FormatSuffix:       p.FormatSuffix,
		Service:            p.Service,
	})
	require.NoError(t, err)
	return ls
}

const localDEM = `ncols 4
nrows 3
xllcorner 10.0
yllcorner 45.0
cellsize 0.5
NODATA_VALUE -9999
1 2 3 4
5 6 7 8
9 10 -9999 12
`

const localServerConfig = `<RasterServer version="1.0">
  <Property name="DatasetName" value="alps"/>
  <Property name="DisplayName" value="Alps DEM"/>
  <Property name="MissingDataSignal" value="-9999"/>
  <Property name="ElevationMin" value="-100"/>
  <Property name="ElevationMax" value="4800"/>
  <Source path="alps/dem.asc" type="EsriASCIIRaster"/>
</RasterServer>`

func localFixture(t *testing.T) (*tilecache.Store, config.Params) {
	t.Helper()
	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put("Earth/alps/alps.RasterServer.xml", []byte(localServerConfig)))
	require.NoError(t, store.Put("alps/dem.asc", []byte(localDEM)))
	return store, config.Params{DatasetName: "alps", CacheName: "Earth/alps"}
}

func TestLocalStrategyRequiresNames(t *testing.T) {
	store, p := localFixture(t)

	for _, param := range []string{"dataset-name", "cache-name"} {
		t.Run(param, func(t *testing.T) {
			broken := p
			if param == "dataset-name" {
				broken.DatasetName = ""
			} else {
				broken.CacheName = ""
			}
			_, err := NewLocalStrategy(broken, store)
			var cerr *config.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, param, cerr.Param)
		})
	}
}

func TestLocalStrategyRequiresServerResource(t *testing.T) {
	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewLocalStrategy(config.Params{DatasetName: "alps", CacheName: "Earth/alps"}, store)
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Earth/alps/alps.RasterServer.xml", cerr.Param)
}

func TestLocalStrategyBuildConfig(t *testing.T) {
	store, p := localFixture(t)
	s, err := NewLocalStrategy(p, store)
	require.NoError(t, err)

	final, err := s.BuildConfig(p)
	require.NoError(t, err)

	assert.Equal(t, "Alps DEM", final.DisplayName)
	assert.Equal(t, "image/png", final.ImageFormat)
	assert.Equal(t, ".png", final.FormatSuffix)
	assert.Equal(t, -9999.0, config.FloatOrDefault(final.MissingDataSignal, 0))
	assert.Equal(t, -100.0, config.FloatOrDefault(final.ElevationMin, 0))
	assert.Equal(t, 4800.0, config.FloatOrDefault(final.ElevationMax, 0))
	require.NotNil(t, final.Sector)
	assert.Equal(t, geo.NewSector(45, 46.5, 10, 12), *final.Sector)
	// cell size 0.5° is coarser than a single level-zero tile resolves
	assert.Equal(t, 1, final.NumLevels)
}

func TestLocalStrategyDoesNotOverrideCallerValues(t *testing.T) {
	store, p := localFixture(t)
	s, err := NewLocalStrategy(p, store)
	require.NoError(t, err)

	p.DisplayName = "My Alps"
	p.NumLevels = 3
	final, err := s.BuildConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "My Alps", final.DisplayName)
	assert.Equal(t, 3, final.NumLevels)
}

func TestLocalStrategyCreateRetriever(t *testing.T) {
	store, p := localFixture(t)
	s, err := NewLocalStrategy(p, store)
	require.NoError(t, err)

	level := &pyramid.Level{TileWidth: 4, TileHeight: 3, CacheName: p.CacheName, FormatSuffix: ".png"}
	tile := pyramid.Tile{Sector: geo.NewSector(45, 46.5, 10, 12), Level: level}

	r, err := s.CreateRetriever(tile)
	require.NoError(t, err)

	er, ok := r.(*EngineRetriever)
	require.True(t, ok)
	assert.Equal(t, "alps", er.Params.DatasetName)
	assert.Same(t, store, er.Store)

	data, err := er.Retrieve(context.Background())
	require.NoError(t, err)

	g, err := raster.TerrainRGBDecoder{}.Decode(data, 4, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, g.At(0, 0), 0.051)
}

func TestLocalStrategyRetrieverHonorsContext(t *testing.T) {
	store, p := localFixture(t)
	s, err := NewLocalStrategy(p, store)
	require.NoError(t, err)

	level := &pyramid.Level{TileWidth: 4, TileHeight: 3}
	tile := pyramid.Tile{Sector: geo.NewSector(45, 46.5, 10, 12), Level: level}
	r, err := s.CreateRetriever(tile)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Retrieve(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
