// pkg/geojson/types.go - Tile-local feature model
package geojson

import (
	"github.com/paulmach/orb"
)

// GeometryType tells which of a feature's geometry collections is populated
type GeometryType int

const (
	GeometryUnknown GeometryType = iota
	GeometryPoints
	GeometryLines
	GeometryPolygons
)

// String returns the collection name for the geometry type
func (g GeometryType) String() string {
	switch g {
	case GeometryPoints:
		return "points"
	case GeometryLines:
		return "lines"
	case GeometryPolygons:
		return "polygons"
	default:
		return "unknown"
	}
}

// Kind is the GeoJSON geometry "type" member resolved into a closed set
type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindMultiPoint
	KindLineString
	KindMultiLineString
	KindPolygon
	KindMultiPolygon
)

// ParseKind resolves a GeoJSON geometry type name. Unrecognized names,
// including GeometryCollection, resolve to KindUnknown.
func ParseKind(name string) Kind {
	switch name {
	case "Point":
		return KindPoint
	case "MultiPoint":
		return KindMultiPoint
	case "LineString":
		return KindLineString
	case "MultiLineString":
		return KindMultiLineString
	case "Polygon":
		return KindPolygon
	case "MultiPolygon":
		return KindMultiPolygon
	default:
		return KindUnknown
	}
}

// GeometryType returns the collection a geometry of this kind populates
func (k Kind) GeometryType() GeometryType {
	switch k {
	case KindPoint, KindMultiPoint:
		return GeometryPoints
	case KindLineString, KindMultiLineString:
		return GeometryLines
	case KindPolygon, KindMultiPolygon:
		return GeometryPolygons
	default:
		return GeometryUnknown
	}
}

// Properties holds the allow-listed numeric properties of a feature
type Properties map[string]float64

// Feature is one extracted feature in tile-local coordinates.
// Only the collection matching GeometryType is non-empty.
type Feature struct {
	GeometryType GeometryType
	Points       []orb.Point
	Lines        []orb.LineString
	Polygons     []orb.Polygon
	Props        Properties
}

// NewFeature returns an empty feature with an initialized property set
func NewFeature() *Feature {
	return &Feature{Props: make(Properties)}
}

// Geometry returns the populated collection as a multi-geometry,
// or nil when the geometry type is unknown.
func (f *Feature) Geometry() orb.Geometry {
	switch f.GeometryType {
	case GeometryPoints:
		return orb.MultiPoint(f.Points)
	case GeometryLines:
		return orb.MultiLineString(f.Lines)
	case GeometryPolygons:
		return orb.MultiPolygon(f.Polygons)
	default:
		return nil
	}
}

// IsEmpty reports whether the feature carries no geometry
func (f *Feature) IsEmpty() bool {
	return len(f.Points) == 0 && len(f.Lines) == 0 && len(f.Polygons) == 0
}

// Layer is an ordered collection of extracted features
type Layer struct {
	Name     string
	Features []*Feature
}

// NewLayer creates an empty named layer
func NewLayer(name string) *Layer {
	return &Layer{
		Name:     name,
		Features: make([]*Feature, 0),
	}
}

// CountByType returns the number of features per geometry type
func (l *Layer) CountByType() map[GeometryType]int {
	counts := make(map[GeometryType]int)
	for _, f := range l.Features {
		counts[f.GeometryType]++
	}
	return counts
}

// VertexCount returns the total number of tile-local vertices in the layer
func (l *Layer) VertexCount() int {
	total := 0
	for _, f := range l.Features {
		total += len(f.Points)
		for _, line := range f.Lines {
			total += len(line)
		}
		for _, poly := range f.Polygons {
			for _, ring := range poly {
				total += len(ring)
			}
		}
	}
	return total
}
