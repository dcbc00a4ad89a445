// Package geo holds the geographic primitives shared by the elevation
// packages: positions are orb.Point values (lon, lat in degrees) and areas
// are Sectors, latitude/longitude rectangles backed by an orb.Bound.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Sector is a geographic rectangle in degrees. MinLat <= MaxLat and
// MinLon <= MaxLon for a valid sector.
type Sector struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// NewSector builds a sector from latitude and longitude extremes.
func NewSector(minLat, maxLat, minLon, maxLon float64) Sector {
	return Sector{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}
}

// FullSphere covers the whole globe.
func FullSphere() Sector {
	return Sector{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
}

// FromBound converts an orb.Bound (lon/lat order) to a Sector.
func FromBound(b orb.Bound) Sector {
	return Sector{MinLat: b.Bottom(), MaxLat: b.Top(), MinLon: b.Left(), MaxLon: b.Right()}
}

// Bound returns the sector as an orb.Bound.
func (s Sector) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{s.MinLon, s.MinLat},
		Max: orb.Point{s.MaxLon, s.MaxLat},
	}
}

// IsValid reports whether the sector has finite, ordered edges.
func (s Sector) IsValid() bool {
	for _, v := range []float64{s.MinLat, s.MaxLat, s.MinLon, s.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return s.MinLat <= s.MaxLat && s.MinLon <= s.MaxLon
}

// DeltaLat returns the latitudinal extent in degrees.
func (s Sector) DeltaLat() float64 { return s.MaxLat - s.MinLat }

// DeltaLon returns the longitudinal extent in degrees.
func (s Sector) DeltaLon() float64 { return s.MaxLon - s.MinLon }

// Contains reports whether the position lies within the sector, edges
// included.
func (s Sector) Contains(p orb.Point) bool {
	return s.ContainsLatLon(p.Lat(), p.Lon())
}

// ContainsLatLon reports whether the coordinate pair lies within the sector.
func (s Sector) ContainsLatLon(lat, lon float64) bool {
	return lat >= s.MinLat && lat <= s.MaxLat && lon >= s.MinLon && lon <= s.MaxLon
}

// Intersects reports whether the two sectors share any area or edge.
func (s Sector) Intersects(o Sector) bool {
	return s.MinLat <= o.MaxLat && s.MaxLat >= o.MinLat &&
		s.MinLon <= o.MaxLon && s.MaxLon >= o.MinLon
}

// Intersection returns the overlapping sector and whether one exists.
func (s Sector) Intersection(o Sector) (Sector, bool) {
	if !s.Intersects(o) {
		return Sector{}, false
	}
	return Sector{
		MinLat: math.Max(s.MinLat, o.MinLat),
		MaxLat: math.Min(s.MaxLat, o.MaxLat),
		MinLon: math.Max(s.MinLon, o.MinLon),
		MaxLon: math.Min(s.MaxLon, o.MaxLon),
	}, true
}

func (s Sector) String() string {
	return fmt.Sprintf("(%v, %v) x (%v, %v)", s.MinLat, s.MaxLat, s.MinLon, s.MaxLon)
}

// Point builds an orb.Point from a latitude/longitude pair.
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// HasNaN reports whether either coordinate of the position is absent.
func HasNaN(p orb.Point) bool {
	return math.IsNaN(p.Lat()) || math.IsNaN(p.Lon())
}
