package pyramid

import (
	"fmt"

	"github.com/gruppe-adler/terrain/internal/geo"
)

// Address identifies a tile by level index, row and column. Rows count north
// from the tile origin, columns east.
type Address struct {
	Level int
	Row   int
	Col   int
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Level, a.Row, a.Col)
}

// Tile couples an address with the sector it covers and the level it belongs
// to. Tiles are transient values created per composition call.
type Tile struct {
	Addr   Address
	Sector geo.Sector
	Level  *Level
}

// Path returns the cache-relative file path of the tile:
// <cacheName>/<level>/<row>/<row>_<col><suffix>.
func (t Tile) Path() string {
	return fmt.Sprintf("%s/%d/%d_%d%s", t.Level.Path(), t.Addr.Row, t.Addr.Row, t.Addr.Col, t.Level.FormatSuffix)
}

// Width returns the tile's pixel width.
func (t Tile) Width() int { return t.Level.TileWidth }

// Height returns the tile's pixel height.
func (t Tile) Height() int { return t.Level.TileHeight }

// ComputeRow returns the tile row containing the latitude for the given tile
// delta and grid origin.
func ComputeRow(delta, latitude, origin float64) int {
	row := int((latitude - origin) / delta)
	// latitude at the very end of the grid belongs to the last row
	if latitude-origin == 180 {
		row--
	}
	return row
}

// ComputeColumn returns the tile column containing the longitude for the
// given tile delta and grid origin.
func ComputeColumn(delta, longitude, origin float64) int {
	gridLon := longitude - origin
	if gridLon < 0 {
		gridLon += 360
	}
	col := int(gridLon / delta)
	if longitude-origin == 360 {
		col--
	}
	return col
}

// RowLatitude returns the minimum latitude of the given row.
func RowLatitude(row int, delta, origin float64) float64 {
	return origin + float64(row)*delta
}

// ColumnLongitude returns the minimum longitude of the given column.
func ColumnLongitude(col int, delta, origin float64) float64 {
	return origin + float64(col)*delta
}

// AddressFor returns the address of the tile containing the position at the
// given level.
func (ls *LevelSet) AddressFor(level int, lat, lon float64) Address {
	l := ls.Level(level)
	return Address{
		Level: level,
		Row:   ComputeRow(l.TileDelta, lat, ls.originLat),
		Col:   ComputeColumn(l.TileDelta, lon, ls.originLon),
	}
}

// TileFor materializes the tile at the given address.
func (ls *LevelSet) TileFor(a Address) Tile {
	l := ls.Level(a.Level)
	minLat := RowLatitude(a.Row, l.TileDelta, ls.originLat)
	minLon := ColumnLongitude(a.Col, l.TileDelta, ls.originLon)
	return Tile{
		Addr:   a,
		Sector: geo.NewSector(minLat, minLat+l.TileDelta, minLon, minLon+l.TileDelta),
		Level:  l,
	}
}

// TilesInSector lists the tiles of a level intersecting the sector, row by
// row from the south-west corner.
func (ls *LevelSet) TilesInSector(level int, sector geo.Sector) []Tile {
	s, ok := sector.Intersection(ls.sector)
	if !ok {
		return nil
	}

	l := ls.Level(level)
	swRow := ComputeRow(l.TileDelta, s.MinLat, ls.originLat)
	swCol := ComputeColumn(l.TileDelta, s.MinLon, ls.originLon)
	neRow := ComputeRow(l.TileDelta, s.MaxLat, ls.originLat)
	neCol := ComputeColumn(l.TileDelta, s.MaxLon, ls.originLon)

	tiles := make([]Tile, 0, (neRow-swRow+1)*(neCol-swCol+1))
	for row := swRow; row <= neRow; row++ {
		for col := swCol; col <= neCol; col++ {
			tiles = append(tiles, ls.TileFor(Address{Level: level, Row: row, Col: col}))
		}
	}
	return tiles
}
