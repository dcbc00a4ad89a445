package elevation

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/pyramid"
	"github.com/gruppe-adler/terrain/internal/retrieve"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

const sentinel = 555.0

type retrieverFunc func(context.Context) ([]byte, error)

func (f retrieverFunc) Retrieve(ctx context.Context) ([]byte, error) { return f(ctx) }

// fakeStrategy serves canned payloads and counts outbound fetch attempts.
type fakeStrategy struct {
	params   config.Params
	fetch    func(pyramid.Tile) ([]byte, error)
	attempts atomic.Int64
}

func (s *fakeStrategy) BuildConfig(config.Params) (config.Params, error) { return s.params, nil }

func (s *fakeStrategy) CreateRetriever(tile pyramid.Tile) (retrieve.Retriever, error) {
	return retrieverFunc(func(context.Context) ([]byte, error) {
		s.attempts.Add(1)
		return s.fetch(tile)
	}), nil
}

func (s *fakeStrategy) LevelCount(config.Params) int { return s.params.NumLevels }

func testParams() config.Params {
	sector := geo.NewSector(0, 10, 0, 10)
	signal := -9999.0
	return config.Params{
		DatasetName:        "test",
		CacheName:          "Earth/Test",
		Sector:             &sector,
		LevelZeroTileDelta: 10,
		TileWidth:          4,
		TileHeight:         4,
		NumLevels:          1,
		ImageFormat:        "application/bil",
		DataType:           config.Int16,
		ByteOrder:          config.LittleEndian,
		FormatSuffix:       ".bil",
		MissingDataSignal:  &signal,
	}
}

func int16Payload(vals ...int16) []byte {
	buf := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func constantPayload(v int16) []byte {
	vals := make([]int16, 16)
	for i := range vals {
		vals[i] = v
	}
	return int16Payload(vals...)
}

// halfMissingPayload is a 4x4 grid whose left two columns hold 100 and whose
// right two columns hold the missing-data signal.
func halfMissingPayload() []byte {
	vals := make([]int16, 16)
	for row := 0; row < 4; row++ {
		vals[row*4] = 100
		vals[row*4+1] = 100
		vals[row*4+2] = -9999
		vals[row*4+3] = -9999
	}
	return int16Payload(vals...)
}

func newTestModel(t *testing.T, payload []byte) (*BasicModel, *fakeStrategy, *tilecache.Store) {
	t.Helper()
	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)

	fs := &fakeStrategy{params: testParams()}
	fs.fetch = func(pyramid.Tile) ([]byte, error) { return payload, nil }

	m, err := NewBasicModel(config.Params{}, store, fs)
	require.NoError(t, err)
	return m, fs, store
}

func TestElevationMapsMissingData(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(-9999))
	ctx := context.Background()

	raw, err := m.UnmappedElevation(ctx, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, -9999.0, raw)

	e, err := m.Elevation(ctx, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, e, "signal maps to the replacement")

	m.SetMissingDataReplacement(42)
	e, err = m.Elevation(ctx, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 42.0, e)
}

func TestElevationReturnsData(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))
	e, err := m.Elevation(context.Background(), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 100.0, e)
}

func TestElevationRejectsNaNCoordinates(t *testing.T) {
	m, fs, _ := newTestModel(t, constantPayload(100))
	_, err := m.Elevation(context.Background(), math.NaN(), 5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = m.UnmappedElevation(context.Background(), 5, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.EqualValues(t, 0, fs.attempts.Load())
}

func TestElevationOutsideModel(t *testing.T) {
	m, fs, _ := newTestModel(t, constantPayload(100))
	raw, err := m.UnmappedElevation(context.Background(), 50, 50)
	require.NoError(t, err)
	assert.Equal(t, -9999.0, raw)
	assert.EqualValues(t, 0, fs.attempts.Load(), "positions outside the model must not fetch")
}

func TestIsTransparent(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))

	// replacement defaults to 0, which differs from the signal
	assert.False(t, m.IsTransparent(-9999))
	assert.False(t, m.IsTransparent(math.NaN()))
	assert.False(t, m.IsTransparent(100))

	m.SetMissingDataReplacement(-9999)
	assert.True(t, m.IsTransparent(-9999))
	assert.True(t, m.IsTransparent(math.NaN()))
	assert.False(t, m.IsTransparent(100))
}

func TestComposeElevationsValidation(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))
	ctx := context.Background()
	sector := geo.NewSector(0, 10, 0, 10)
	points := []orb.Point{geo.Point(5, 5), geo.Point(6, 6)}
	buffer := make([]float64, 2)

	cases := []struct {
		name string
		call func() error
	}{
		{"invalid sector", func() error {
			return m.ComposeElevations(ctx, geo.NewSector(10, 0, 0, 10), points, 2, buffer)
		}},
		{"nil points", func() error {
			return m.ComposeElevations(ctx, sector, nil, 2, buffer)
		}},
		{"nil buffer", func() error {
			return m.ComposeElevations(ctx, sector, points, 2, nil)
		}},
		{"tile width below one", func() error {
			return m.ComposeElevations(ctx, sector, points, 0, buffer)
		}},
		{"short buffer", func() error {
			return m.ComposeElevations(ctx, sector, points, 2, buffer[:1])
		}},
		{"tile width exceeds points", func() error {
			return m.ComposeElevations(ctx, sector, points, 3, buffer)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.call(), ErrInvalidArgument)
		})
	}
}

func TestComposeElevationsWritesOnlyRealSamples(t *testing.T) {
	m, _, _ := newTestModel(t, halfMissingPayload())

	points := []orb.Point{geo.Point(5, 1), geo.Point(5, 9)}
	buffer := []float64{sentinel, sentinel}

	err := m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 2, buffer)
	require.NoError(t, err)

	assert.Equal(t, 100.0, buffer[0])
	assert.Equal(t, sentinel, buffer[1], "missing data leaves the caller's sentinel in place")
}

func TestComposeElevationsSkipsNaNPoints(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))

	points := []orb.Point{geo.Point(math.NaN(), 5), geo.Point(5, 5)}
	buffer := []float64{sentinel, sentinel}

	err := m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 2, buffer)
	require.NoError(t, err)
	assert.Equal(t, sentinel, buffer[0])
	assert.Equal(t, 100.0, buffer[1])
}

func TestNetworkDisabledMakesZeroFetchAttempts(t *testing.T) {
	m, fs, _ := newTestModel(t, constantPayload(100))
	m.SetNetworkRetrievalEnabled(false)

	points := []orb.Point{geo.Point(5, 5)}
	buffer := []float64{sentinel}
	for i := 0; i < 3; i++ {
		err := m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 1, buffer)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 0, fs.attempts.Load())
	assert.Equal(t, sentinel, buffer[0])
}

func TestSameTileIsFetchedOnce(t *testing.T) {
	m, fs, _ := newTestModel(t, constantPayload(100))

	points := []orb.Point{geo.Point(2, 2), geo.Point(5, 5), geo.Point(8, 8)}
	buffer := []float64{sentinel, sentinel, sentinel}
	err := m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 3, buffer)
	require.NoError(t, err)
	err = m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 3, buffer)
	require.NoError(t, err)

	assert.EqualValues(t, 1, fs.attempts.Load())
}

func TestFailingTileIsParkedAfterRetries(t *testing.T) {
	m, fs, _ := newTestModel(t, nil)
	fs.fetch = func(pyramid.Tile) ([]byte, error) { return nil, fmt.Errorf("boom") }

	points := []orb.Point{geo.Point(5, 5)}
	buffer := []float64{sentinel}
	for i := 0; i < 5; i++ {
		err := m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 1, buffer)
		require.NoError(t, err, "per-tile failures are retryable, not fatal")
	}

	assert.EqualValues(t, pyramid.DefaultMaxAbsentTries, fs.attempts.Load())
	assert.Equal(t, sentinel, buffer[0])
}

func TestStoredTilesServeNewModels(t *testing.T) {
	m, fs, store := newTestModel(t, constantPayload(100))

	e, err := m.Elevation(context.Background(), 5, 5)
	require.NoError(t, err)
	require.Equal(t, 100.0, e)
	require.EqualValues(t, 1, fs.attempts.Load())

	// a second model over the same store must not fetch again
	fs2 := &fakeStrategy{params: testParams()}
	fs2.fetch = func(pyramid.Tile) ([]byte, error) { return nil, fmt.Errorf("unexpected fetch") }
	m2, err := NewBasicModel(config.Params{}, store, fs2)
	require.NoError(t, err)

	e, err = m2.Elevation(context.Background(), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 100.0, e)
	assert.EqualValues(t, 0, fs2.attempts.Load())
}

func TestExpiredTilesAreRefetched(t *testing.T) {
	m, fs, _ := newTestModel(t, constantPayload(100))
	ctx := context.Background()

	e, err := m.Elevation(ctx, 5, 5)
	require.NoError(t, err)
	require.Equal(t, 100.0, e)
	require.EqualValues(t, 1, fs.attempts.Load())

	// the source changes and everything cached so far expires; both the
	// in-memory tile and the stored file must be dropped
	fs.fetch = func(pyramid.Tile) ([]byte, error) { return constantPayload(200), nil }
	m.SetExpiryTime(time.Now().Add(time.Hour))

	e, err = m.Elevation(ctx, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 200.0, e)
	assert.EqualValues(t, 2, fs.attempts.Load())
}

func TestDistinctTilesAreFetchedConcurrently(t *testing.T) {
	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)

	p := testParams()
	wide := geo.NewSector(0, 10, 0, 20)
	p.Sector = &wide
	fs := &fakeStrategy{params: p}

	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	fs.fetch = func(pyramid.Tile) ([]byte, error) {
		arrived <- struct{}{}
		<-release
		return constantPayload(100), nil
	}

	m, err := NewBasicModel(config.Params{}, store, fs)
	require.NoError(t, err)

	points := []orb.Point{geo.Point(5, 5), geo.Point(5, 15)}
	buffer := []float64{sentinel, sentinel}
	done := make(chan error, 1)
	go func() {
		done <- m.ComposeElevations(context.Background(), wide, points, 2, buffer)
	}()

	// both tile fetches must be in flight at once
	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(5 * time.Second):
			t.Fatal("tile fetches did not overlap")
		}
	}
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []float64{100, 100}, buffer)
}

func TestDetailHint(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))

	hint, err := m.DetailHint(geo.NewSector(0, 10, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 0.0, hint)

	_, err = m.DetailHint(geo.NewSector(10, 0, 0, 10))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestElevationsReportsAchievedResolution(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))

	points := []orb.Point{geo.Point(5, 5)}
	buffer := []float64{sentinel}
	achieved, err := m.Elevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 0.0001, buffer)
	require.NoError(t, err)

	assert.Equal(t, 2.5, achieved, "one 4-sample level over 10 degrees resolves 2.5 degrees per sample")
	assert.Equal(t, 100.0, buffer[0])
}

func TestMultiResolutionAdapters(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))

	buffer := []float64{sentinel}
	achieved, err := m.GetElevations(context.Background(), geo.NewSector(0, 10, 0, 10),
		[]orb.Point{geo.Point(5, 5)}, []float64{0.0001, 99}, buffer)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5}, achieved, "only the first target resolution counts")
	assert.Equal(t, 100.0, buffer[0])

	_, err = m.GetElevations(context.Background(), geo.NewSector(0, 10, 0, 10),
		[]orb.Point{geo.Point(5, 5)}, nil, buffer)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, []float64{2.5}, m.BestResolutions(nil))
}

func TestBestResolution(t *testing.T) {
	m, _, _ := newTestModel(t, constantPayload(100))

	assert.Equal(t, 2.5, m.BestResolution(nil))
	inside := geo.NewSector(1, 2, 1, 2)
	assert.Equal(t, 2.5, m.BestResolution(&inside))
	outside := geo.NewSector(50, 60, 50, 60)
	assert.True(t, math.IsNaN(m.BestResolution(&outside)))
}

func TestExtremeElevationsFallsBackToDatasetBounds(t *testing.T) {
	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)

	p := testParams()
	lo, hi := -100.0, 4000.0
	p.ElevationMin, p.ElevationMax = &lo, &hi
	fs := &fakeStrategy{params: p}
	fs.fetch = func(pyramid.Tile) ([]byte, error) { return constantPayload(1), nil }
	m, err := NewBasicModel(config.Params{}, store, fs)
	require.NoError(t, err)

	min, max := m.ExtremeElevations(geo.NewSector(0, 10, 0, 10))
	assert.Equal(t, -100.0, min)
	assert.Equal(t, 4000.0, max)
}

func TestExtremeElevationsFromResource(t *testing.T) {
	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)

	// level 1 of a 10-degree pyramid: 5-degree cells, 72x36 grid
	cols, rows := 72, 36
	vals := make([]int16, cols*rows*2)
	for i := 0; i < len(vals); i += 2 {
		vals[i], vals[i+1] = -5, 1000
	}
	require.NoError(t, store.Put("config/TestExtremes_1.bil", int16Payload(vals...)))

	p := testParams()
	p.ElevationExtremesFile = "config/TestExtremes_1.bil"
	fs := &fakeStrategy{params: p}
	fs.fetch = func(pyramid.Tile) ([]byte, error) { return constantPayload(1), nil }
	m, err := NewBasicModel(config.Params{}, store, fs)
	require.NoError(t, err)

	min, max := m.ExtremeElevations(geo.NewSector(0, 10, 0, 10))
	assert.Equal(t, -5.0, min)
	assert.Equal(t, 1000.0, max)
}

func TestPrefetch(t *testing.T) {
	m, fs, store := newTestModel(t, constantPayload(100))

	stored, err := m.Prefetch(context.Background(), geo.NewSector(0, 10, 0, 10), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.EqualValues(t, 1, fs.attempts.Load())

	path := m.Levels().TileFor(m.Levels().AddressFor(0, 5, 5)).Path()
	_, ok := store.Locate(path)
	assert.True(t, ok)

	// a second run finds everything cached
	stored, err = m.Prefetch(context.Background(), geo.NewSector(0, 10, 0, 10), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	assert.EqualValues(t, 1, fs.attempts.Load())
}

func TestPrefetchRequiresNetwork(t *testing.T) {
	m, fs, _ := newTestModel(t, constantPayload(100))
	m.SetNetworkRetrievalEnabled(false)

	_, err := m.Prefetch(context.Background(), geo.NewSector(0, 10, 0, 10), 0)
	assert.Error(t, err)
	assert.EqualValues(t, 0, fs.attempts.Load())
}

func wcsTestParams(service string) config.Params {
	p := testParams()
	p.Service = service
	p.CoordinateSystem = config.CRSEPSG4326
	p.NumLevels = 2
	return p
}

func TestWCSModelComposeElevations(t *testing.T) {
	var requests atomic.Int64
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(int16Payload(100, 150, 200, 300))
	}))
	defer ts.Close()

	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewWCSModel(wcsTestParams(ts.URL+"/wcs?"), store)
	require.NoError(t, err)

	sector := geo.NewSector(0, 10, 0, 10)
	points := []orb.Point{geo.Point(10, 0), geo.Point(10, 10), geo.Point(0, 0), geo.Point(0, 10)}
	buffer := []float64{sentinel, sentinel, sentinel, sentinel}

	err = m.ComposeElevations(context.Background(), sector, points, 2, buffer)
	require.NoError(t, err)

	assert.EqualValues(t, 1, requests.Load(), "the whole sector is one coverage request")
	assert.Contains(t, query, "width=2&height=2")
	assert.Contains(t, query, "bbox=0.0,0.0,10.0,10.0&")

	assert.Equal(t, []float64{100, 150, 200, 300}, buffer)

	// the coverage payload lands in the file store and answers the next
	// composition without a request
	_, ok := store.Locate(m.composedPath(sector, 2, 2))
	assert.True(t, ok)

	again := []float64{sentinel, sentinel, sentinel, sentinel}
	err = m.ComposeElevations(context.Background(), sector, points, 2, again)
	require.NoError(t, err)
	assert.EqualValues(t, 1, requests.Load())
	assert.Equal(t, buffer, again)
}

func TestWCSModelComposeLeavesMissingUntouched(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(int16Payload(-9999, -9999, -9999, -9999))
	}))
	defer ts.Close()

	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewWCSModel(wcsTestParams(ts.URL+"/wcs?"), store)
	require.NoError(t, err)

	points := []orb.Point{geo.Point(10, 0), geo.Point(10, 10), geo.Point(0, 0), geo.Point(0, 10)}
	buffer := []float64{sentinel, sentinel, sentinel, sentinel}

	err = m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 2, buffer)
	require.NoError(t, err)
	assert.Equal(t, []float64{sentinel, sentinel, sentinel, sentinel}, buffer,
		"missing coverage cells leave the caller's sentinel in place")
}

func TestWCSModelComposeFailureIsFatal(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewWCSModel(wcsTestParams(ts.URL+"/wcs?"), store)
	require.NoError(t, err)

	points := []orb.Point{geo.Point(5, 5)}
	err = m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), points, 1, []float64{sentinel})
	var rerr *retrieve.Error
	assert.True(t, errors.As(err, &rerr))
}

func TestWCSModelComposeRespectsNetworkToggle(t *testing.T) {
	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer ts.Close()

	store, err := tilecache.NewStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewWCSModel(wcsTestParams(ts.URL+"/wcs?"), store)
	require.NoError(t, err)
	m.SetNetworkRetrievalEnabled(false)

	buffer := []float64{sentinel}
	err = m.ComposeElevations(context.Background(), geo.NewSector(0, 10, 0, 10), []orb.Point{geo.Point(5, 5)}, 1, buffer)
	require.NoError(t, err)
	assert.EqualValues(t, 0, requests.Load())
	assert.Equal(t, sentinel, buffer[0])
}
