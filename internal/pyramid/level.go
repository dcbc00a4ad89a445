// Package pyramid models the multi-resolution tile grid an elevation dataset
// is divided into. A LevelSet is computed once from a model's configuration
// and is immutable afterwards, so it can be read concurrently by any number
// of fetch tasks without locking.
package pyramid

import (
	"fmt"
	"math"

	"github.com/gruppe-adler/terrain/internal/geo"
)

// Absent-tile bookkeeping defaults.
const (
	DefaultMaxAbsentTries        = 2
	DefaultAbsentCheckIntervalMs = 10000
)

// Params describes the tile grid derived from a model configuration.
type Params struct {
	Sector             geo.Sector
	LevelZeroTileDelta float64 // degrees covered by a level-zero tile edge
	TileWidth          int
	TileHeight         int
	NumLevels          int
	NumEmptyLevels     int
	CacheName          string
	DatasetName        string
	FormatSuffix       string
	Service            string
}

// Level is one resolution step of the pyramid. Its tile delta halves with
// every level index.
type Level struct {
	Index        int
	TileDelta    float64 // degrees per tile edge at this level
	TileWidth    int
	TileHeight   int
	CacheName    string
	DatasetName  string
	FormatSuffix string
	Service      string
	Empty        bool
}

// TexelSize returns the level's resolution in degrees per sample row.
func (l *Level) TexelSize() float64 {
	return l.TileDelta / float64(l.TileHeight)
}

// Path returns the cache-relative directory of the level.
func (l *Level) Path() string {
	return fmt.Sprintf("%s/%d", l.CacheName, l.Index)
}

// LevelSet is the full pyramid. It is read-only after construction.
type LevelSet struct {
	sector    geo.Sector
	originLat float64
	originLon float64
	levels    []Level
}

// NewLevelSet derives the pyramid from validated parameters. The tile origin
// is the globe's south-west corner.
func NewLevelSet(p Params) (*LevelSet, error) {
	if p.LevelZeroTileDelta <= 0 {
		return nil, fmt.Errorf("pyramid: level-zero tile delta must be positive, got %v", p.LevelZeroTileDelta)
	}
	if p.TileWidth < 1 || p.TileHeight < 1 {
		return nil, fmt.Errorf("pyramid: tile dimensions must be positive, got %dx%d", p.TileWidth, p.TileHeight)
	}
	if p.NumLevels < 1 {
		return nil, fmt.Errorf("pyramid: need at least one level, got %d", p.NumLevels)
	}
	if p.NumEmptyLevels < 0 || p.NumEmptyLevels >= p.NumLevels {
		return nil, fmt.Errorf("pyramid: empty level count %d out of range for %d levels", p.NumEmptyLevels, p.NumLevels)
	}
	if !p.Sector.IsValid() {
		return nil, fmt.Errorf("pyramid: invalid sector %v", p.Sector)
	}

	ls := &LevelSet{
		sector:    p.Sector,
		originLat: -90,
		originLon: -180,
		levels:    make([]Level, p.NumLevels),
	}
	delta := p.LevelZeroTileDelta
	for i := 0; i < p.NumLevels; i++ {
		ls.levels[i] = Level{
			Index:        i,
			TileDelta:    delta,
			TileWidth:    p.TileWidth,
			TileHeight:   p.TileHeight,
			CacheName:    p.CacheName,
			DatasetName:  p.DatasetName,
			FormatSuffix: p.FormatSuffix,
			Service:      p.Service,
			Empty:        i < p.NumEmptyLevels,
		}
		delta /= 2
	}
	return ls, nil
}

// Sector returns the pyramid's bounding sector.
func (ls *LevelSet) Sector() geo.Sector { return ls.sector }

// NumLevels returns the number of levels in the pyramid.
func (ls *LevelSet) NumLevels() int { return len(ls.levels) }

// Level returns the level at the given index, or nil when out of range.
func (ls *LevelSet) Level(i int) *Level {
	if i < 0 || i >= len(ls.levels) {
		return nil
	}
	return &ls.levels[i]
}

// FirstLevel returns the coarsest level.
func (ls *LevelSet) FirstLevel() *Level { return &ls.levels[0] }

// LastLevel returns the finest level.
func (ls *LevelSet) LastLevel() *Level { return &ls.levels[len(ls.levels)-1] }

// TargetLevel picks the coarsest level satisfying the target resolution in
// degrees per sample. When even the finest level is coarser than the target,
// the finest level is returned.
func (ls *LevelSet) TargetLevel(target float64) *Level {
	last := ls.LastLevel()
	if last.TexelSize() >= target {
		return last
	}
	for i := range ls.levels {
		l := &ls.levels[i]
		if l.TexelSize() <= target {
			if l.Empty {
				return nil
			}
			return l
		}
	}
	return last
}

// NumLevelsForResolution computes the minimal level count whose finest level
// meets the requested data resolution (degrees per pixel), given the
// level-zero tile delta and tile pixel size. The result carries a +1 bias:
// level indices start at zero, so a pyramid whose finest level is index n has
// n+1 levels.
func NumLevelsForResolution(levelZeroDelta float64, tileSize int, resolution float64) int {
	n := math.Log2(levelZeroDelta / (resolution * float64(tileSize)))
	levels := int(math.Ceil(n)) + 1
	if levels < 1 {
		levels = 1
	}
	return levels
}
