// pkg/mvt/geometry.go - Shared geometry transformation utilities
package mvt

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// flipGeometry returns a copy of geom mirrored from y-north into the y-down
// tile grid. The input is left untouched.
func flipGeometry(geom orb.Geometry, extent uint32) orb.Geometry {
	return project.Geometry(orb.Clone(geom), flipY(extent))
}

// flipY mirrors tile-local coordinates from y-north into the y-down tile grid
func flipY(extent uint32) orb.Projection {
	e := float64(extent)
	return func(p orb.Point) orb.Point {
		return orb.Point{p[0], e - p[1]}
	}
}

// simplifyMulti reduces a single-member multi-geometry to its member so
// encoders emit the plain geometry type.
func simplifyMulti(geom orb.Geometry) orb.Geometry {
	switch g := geom.(type) {
	case orb.MultiPoint:
		if len(g) == 1 {
			return g[0]
		}
	case orb.MultiLineString:
		if len(g) == 1 {
			return g[0]
		}
	case orb.MultiPolygon:
		if len(g) == 1 {
			return g[0]
		}
	}
	return geom
}
