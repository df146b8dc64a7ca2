// pkg/geojson/projection.go - Mercator projection into tile-local space
package geojson

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

// DefaultExtent is the tile-local range used when a TileContext is built from a tile address
const DefaultExtent = 4096

// TileContext positions a tile in projected-meter space.
// It is supplied per tile by the caller and never modified by extraction.
type TileContext struct {
	Origin       orb.Point // projected meters of the tile's reference corner
	InverseScale float64   // tile-local units per projected meter
}

// NewTileContext builds the context for a tile address: origin at the tile's
// south-west corner, local coordinates spanning [0, extent] on both axes with y north.
func NewTileContext(t maptile.Tile, extent uint32) TileContext {
	bound := t.Bound()
	sw := project.Point(bound.Min, project.WGS84.ToMercator)
	ne := project.Point(bound.Max, project.WGS84.ToMercator)

	return TileContext{
		Origin:       sw,
		InverseScale: float64(extent) / (ne[0] - sw[0]),
	}
}

// Project maps a [longitude, latitude] pair in degrees to tile-local coordinates.
// Latitudes beyond the Mercator limit (about ±85.0511°) are clamped to the
// limit's projected y. Non-finite input yields non-finite output.
func Project(lonLat orb.Point, tc TileContext) orb.Point {
	meters := project.Point(lonLat, project.WGS84.ToMercator)
	return orb.Point{
		(meters[0] - tc.Origin[0]) * tc.InverseScale,
		(meters[1] - tc.Origin[1]) * tc.InverseScale,
	}
}

// Unproject maps tile-local coordinates back to [longitude, latitude]
func Unproject(local orb.Point, tc TileContext) orb.Point {
	meters := orb.Point{
		local[0]/tc.InverseScale + tc.Origin[0],
		local[1]/tc.InverseScale + tc.Origin[1],
	}
	return project.Point(meters, project.Mercator.ToWGS84)
}
