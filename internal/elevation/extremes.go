package elevation

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gruppe-adler/terrain/internal/geo"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

// extremesGrid holds precomputed elevation extremes for the whole globe: a
// little-endian int16 sequence of interleaved (min, max) pairs, row-major
// from the north-west corner. Its cell spacing is the tile delta of the
// pyramid level named by the resource's trailing "_<level>" filename
// component.
type extremesGrid struct {
	cols   int
	rows   int
	delta  float64
	values []int16
}

// loadExtremesGrid reads an extremes resource from the file store.
func loadExtremesGrid(store *tilecache.Store, resource string, levelZeroDelta float64) (*extremesGrid, error) {
	level, err := extremesLevel(resource)
	if err != nil {
		return nil, err
	}
	delta := levelZeroDelta / math.Pow(2, float64(level))
	if delta <= 0 {
		return nil, fmt.Errorf("elevation: extremes cell spacing %v is not positive", delta)
	}
	cols := int(math.Round(360 / delta))
	rows := int(math.Round(180 / delta))

	data, err := store.Read(resource)
	if err != nil {
		return nil, err
	}
	if len(data) != cols*rows*4 {
		return nil, fmt.Errorf("elevation: extremes resource holds %d bytes, want %d for a %dx%d grid", len(data), cols*rows*4, cols, rows)
	}

	values := make([]int16, cols*rows*2)
	for i := range values {
		values[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return &extremesGrid{cols: cols, rows: rows, delta: delta, values: values}, nil
}

// extremesLevel parses the pyramid level from the resource name's trailing
// "_<level>" component.
func extremesLevel(resource string) (int, error) {
	name := resource
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	i := strings.LastIndexByte(name, '_')
	if i < 0 || i == len(name)-1 {
		return 0, fmt.Errorf("elevation: extremes resource %q does not name its level", resource)
	}
	level, err := strconv.Atoi(name[i+1:])
	if err != nil || level < 0 {
		return 0, fmt.Errorf("elevation: extremes resource %q does not name its level", resource)
	}
	return level, nil
}

// extremes scans the cells intersecting the sector.
func (e *extremesGrid) extremes(s geo.Sector) (float64, float64, bool) {
	if !s.IsValid() {
		return 0, 0, false
	}

	colMin := clampInt(int(math.Floor((s.MinLon+180)/e.delta)), 0, e.cols-1)
	colMax := clampInt(int(math.Floor((s.MaxLon+180)/e.delta)), 0, e.cols-1)
	rowMin := clampInt(int(math.Floor((90-s.MaxLat)/e.delta)), 0, e.rows-1)
	rowMax := clampInt(int(math.Floor((90-s.MinLat)/e.delta)), 0, e.rows-1)

	min, max := math.Inf(1), math.Inf(-1)
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			i := (row*e.cols + col) * 2
			if v := float64(e.values[i]); v < min {
				min = v
			}
			if v := float64(e.values[i+1]); v > max {
				max = v
			}
		}
	}
	if math.IsInf(min, 1) {
		return 0, 0, false
	}
	return min, max, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
