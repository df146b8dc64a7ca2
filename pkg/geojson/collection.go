// pkg/geojson/collection.go - Conversion of extracted layers to orb feature collections
package geojson

import (
	orbgeojson "github.com/paulmach/orb/geojson"
)

// FeatureCollection converts the layer into an orb feature collection in
// tile-local coordinates. Features without geometry are skipped.
// Geometries share memory with the layer.
func (l *Layer) FeatureCollection() *orbgeojson.FeatureCollection {
	fc := orbgeojson.NewFeatureCollection()
	for _, f := range l.Features {
		geom := f.Geometry()
		if geom == nil || f.IsEmpty() {
			continue
		}

		feature := orbgeojson.NewFeature(geom)
		for k, v := range f.Props {
			feature.Properties[k] = v
		}
		fc.Append(feature)
	}
	return fc
}
