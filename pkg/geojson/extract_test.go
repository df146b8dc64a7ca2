// pkg/geojson/extract_test.go - Unit tests for GeoJSON extraction
package geojson

import (
	"errors"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// identityContext makes tile-local coordinates equal projected meters
var identityContext = TileContext{Origin: orb.Point{0, 0}, InverseScale: 1}

func mustParse(t *testing.T, doc string) Node {
	t.Helper()
	n, err := ParseString(doc)
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", doc, err)
	}
	return n
}

func quietExtractor(t *testing.T, keys ...string) *Extractor {
	t.Helper()
	logger := zerolog.Nop()
	e, err := NewExtractorWithOptions(&ExtractOptions{NumericProperties: keys, Logger: &logger})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return e
}

func TestExtractPoint(t *testing.T) {
	p, keep, err := ExtractPoint(mustParse(t, `[0, 0]`), identityContext, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !keep {
		t.Error("Expected point without predecessor to be kept")
	}
	if p[0] != 0 || abs(p[1]) > 1e-9 {
		t.Errorf("Expected (0, 0), got %v", p)
	}
}

func TestExtractPointDuplicate(t *testing.T) {
	prev := Project(orb.Point{10, 20}, identityContext)

	_, keep, err := ExtractPoint(mustParse(t, `[10, 20]`), identityContext, &prev)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if keep {
		t.Error("Expected duplicate point to be rejected")
	}

	_, keep, _ = ExtractPoint(mustParse(t, `[10.001, 20]`), identityContext, &prev)
	if !keep {
		t.Error("Expected distinct point to be kept")
	}
}

func TestExtractPointIgnoresAltitude(t *testing.T) {
	p, _, err := ExtractPoint(mustParse(t, `[1, 2, 300]`), identityContext, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := Project(orb.Point{1, 2}, identityContext)
	if p != want {
		t.Errorf("Expected %v, got %v", want, p)
	}
}

func TestExtractPointMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not an array", `{"lon": 1}`},
		{"too short", `[1]`},
		{"string element", `[1, "2"]`},
		{"null element", `[null, 2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ExtractPoint(mustParse(t, tt.doc), identityContext, nil)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestExtractLine(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		points int
	}{
		{"single point", `[[1, 1]]`, 1},
		{"consecutive duplicate dropped", `[[1, 1], [1, 1], [2, 2]]`, 2},
		{"all duplicates", `[[5, 5], [5, 5], [5, 5]]`, 1},
		{"non-consecutive repeat kept", `[[1, 1], [2, 2], [1, 1]]`, 3},
		{"empty", `[]`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := ExtractLine(mustParse(t, tt.doc), identityContext)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(line) != tt.points {
				t.Errorf("Expected %d points, got %d", tt.points, len(line))
			}
		})
	}
}

func TestExtractLinePreservesOrder(t *testing.T) {
	line, err := ExtractLine(mustParse(t, `[[1, 1], [1, 1], [2, 2]]`), identityContext)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := orb.LineString{
		Project(orb.Point{1, 1}, identityContext),
		Project(orb.Point{2, 2}, identityContext),
	}
	if !reflect.DeepEqual(line, want) {
		t.Errorf("Expected %v, got %v", want, line)
	}
}

func TestExtractLineMalformedPath(t *testing.T) {
	_, err := ExtractLine(mustParse(t, `[[1, 1], [2, "x"]]`), identityContext)

	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("Expected MalformedError, got %v", err)
	}
	if me.Path != "[1][1]" {
		t.Errorf("Expected path [1][1], got %s", me.Path)
	}
}

func TestExtractPolygonTwoRings(t *testing.T) {
	doc := `[
		[[0, 0], [1, 0], [1, 0], [1, 1], [0, 0]],
		[[0.2, 0.2], [0.2, 0.2], [0.4, 0.2], [0.2, 0.2]]
	]`
	poly, err := ExtractPolygon(mustParse(t, doc), identityContext)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(poly) != 2 {
		t.Fatalf("Expected 2 rings, got %d", len(poly))
	}
	if len(poly[0]) != 4 {
		t.Errorf("Expected outer ring with 4 points, got %d", len(poly[0]))
	}
	if len(poly[1]) != 3 {
		t.Errorf("Expected inner ring with 3 points, got %d", len(poly[1]))
	}
}

func TestExtractFeatureProperties(t *testing.T) {
	doc := `{
		"type": "Feature",
		"properties": {"height": 12.5, "min_height": 2, "color": "red", "levels": 3},
		"geometry": {"type": "Point", "coordinates": [0, 0]}
	}`
	f, err := quietExtractor(t).ExtractFeature(mustParse(t, doc), identityContext)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := Properties{"height": 12.5, "min_height": 2}
	if !reflect.DeepEqual(f.Props, want) {
		t.Errorf("Expected properties %v, got %v", want, f.Props)
	}
}

func TestExtractFeatureCustomAllowList(t *testing.T) {
	doc := `{
		"properties": {"height": 12.5, "levels": 3},
		"geometry": {"type": "Point", "coordinates": [0, 0]}
	}`
	f, err := quietExtractor(t, "levels").ExtractFeature(mustParse(t, doc), identityContext)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(f.Props) != 1 || f.Props["levels"] != 3 {
		t.Errorf("Expected only levels=3, got %v", f.Props)
	}
}

func TestExtractFeatureNullProperties(t *testing.T) {
	doc := `{"properties": null, "geometry": {"type": "Point", "coordinates": [0, 0]}}`
	f, err := quietExtractor(t).ExtractFeature(mustParse(t, doc), identityContext)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(f.Props) != 0 {
		t.Errorf("Expected no properties, got %v", f.Props)
	}
}

func TestExtractFeatureGeometryTypes(t *testing.T) {
	tests := []struct {
		name         string
		geometry     string
		geometryType GeometryType
		points       int
		lines        int
		polygons     int
	}{
		{"point", `{"type": "Point", "coordinates": [1, 2]}`, GeometryPoints, 1, 0, 0},
		{"multipoint independent members", `{"type": "MultiPoint", "coordinates": [[1, 2], [1, 2], [3, 4]]}`, GeometryPoints, 3, 0, 0},
		{"linestring", `{"type": "LineString", "coordinates": [[1, 2], [3, 4]]}`, GeometryLines, 0, 1, 0},
		{"multilinestring", `{"type": "MultiLineString", "coordinates": [[[1, 2], [3, 4]], [[5, 6], [7, 8]]]}`, GeometryLines, 0, 2, 0},
		{"polygon", `{"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}`, GeometryPolygons, 0, 0, 1},
		{"multipolygon", `{"type": "MultiPolygon", "coordinates": [[[[0, 0], [1, 0], [1, 1], [0, 0]]], [[[2, 2], [3, 2], [3, 3], [2, 2]]]]}`, GeometryPolygons, 0, 0, 2},
		{"unknown type", `{"type": "Curve", "coordinates": [1, 2]}`, GeometryUnknown, 0, 0, 0},
	}

	e := quietExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"properties": {}, "geometry": ` + tt.geometry + `}`
			f, err := e.ExtractFeature(mustParse(t, doc), identityContext)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if f.GeometryType != tt.geometryType {
				t.Errorf("Expected geometry type %s, got %s", tt.geometryType, f.GeometryType)
			}
			if len(f.Points) != tt.points || len(f.Lines) != tt.lines || len(f.Polygons) != tt.polygons {
				t.Errorf("Expected %d/%d/%d points/lines/polygons, got %d/%d/%d",
					tt.points, tt.lines, tt.polygons, len(f.Points), len(f.Lines), len(f.Polygons))
			}
		})
	}
}

func TestExtractFeatureMultiPolygonMatchesPolygons(t *testing.T) {
	first := `[[[0, 0], [1, 0], [1, 1], [0, 0]]]`
	second := `[[[2, 2], [3, 2], [3, 2], [3, 3], [2, 2]], [[2.2, 2.2], [2.4, 2.2], [2.2, 2.2]]]`
	doc := `{"properties": {}, "geometry": {"type": "MultiPolygon", "coordinates": [` + first + `,` + second + `]}}`

	f, err := quietExtractor(t).ExtractFeature(mustParse(t, doc), identityContext)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if f.GeometryType != GeometryPolygons || len(f.Polygons) != 2 {
		t.Fatalf("Expected 2 polygons, got %s with %d", f.GeometryType, len(f.Polygons))
	}

	for i, sub := range []string{first, second} {
		want, err := ExtractPolygon(mustParse(t, sub), identityContext)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if !reflect.DeepEqual(f.Polygons[i], want) {
			t.Errorf("Polygon %d: expected %v, got %v", i, want, f.Polygons[i])
		}
	}
}

func TestExtractFeatureMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"missing properties", `{"geometry": {"type": "Point", "coordinates": [0, 0]}}`, "properties"},
		{"missing geometry", `{"properties": {}}`, "geometry"},
		{"null geometry", `{"properties": {}, "geometry": null}`, "geometry"},
		{"missing coordinates", `{"properties": {}, "geometry": {"type": "Point"}}`, "geometry.coordinates"},
		{"missing type", `{"properties": {}, "geometry": {"coordinates": [0, 0]}}`, "geometry.type"},
		{"numeric type", `{"properties": {}, "geometry": {"type": 7, "coordinates": [0, 0]}}`, "geometry.type"},
		{"string height", `{"properties": {"height": "12"}, "geometry": {"type": "Point", "coordinates": [0, 0]}}`, "properties.height"},
		{"bad ring vertex", `{"properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, true]]]}}`, "geometry.coordinates[0][1][1]"},
	}

	e := quietExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ExtractFeature(mustParse(t, tt.doc), identityContext)
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("Expected MalformedError, got %v", err)
			}
			if me.Path != tt.path {
				t.Errorf("Expected path %s, got %s", tt.path, me.Path)
			}
		})
	}
}

func TestExtractLayer(t *testing.T) {
	doc := `{
		"type": "FeatureCollection",
		"features": [
			{"properties": {"height": 10}, "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}},
			{"properties": {}, "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}},
			{"properties": {}, "geometry": {"type": "Point", "coordinates": [0, 0]}}
		]
	}`
	layer, err := quietExtractor(t).ExtractLayer(mustParse(t, doc), identityContext)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(layer.Features) != 3 {
		t.Fatalf("Expected 3 features, got %d", len(layer.Features))
	}

	order := []GeometryType{GeometryPolygons, GeometryLines, GeometryPoints}
	for i, want := range order {
		if layer.Features[i].GeometryType != want {
			t.Errorf("Feature %d: expected %s, got %s", i, want, layer.Features[i].GeometryType)
		}
	}
	if layer.Name != "geojson" {
		t.Errorf("Expected default layer name geojson, got %s", layer.Name)
	}
}

func TestExtractLayerMissingFeatures(t *testing.T) {
	layer, err := quietExtractor(t).ExtractLayer(mustParse(t, `{"type": "FeatureCollection"}`), identityContext)
	if err != nil {
		t.Fatalf("Expected missing features to be tolerated, got %v", err)
	}
	if layer == nil || len(layer.Features) != 0 {
		t.Errorf("Expected empty layer, got %v", layer)
	}
}

func TestExtractLayerMalformedFeature(t *testing.T) {
	doc := `{"features": [
		{"properties": {}, "geometry": {"type": "Point", "coordinates": [0, 0]}},
		{"properties": {}}
	]}`
	layer, err := quietExtractor(t).ExtractLayer(mustParse(t, doc), identityContext)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Expected ErrMalformed, got %v", err)
	}
	if layer != nil {
		t.Error("Expected no partial layer on malformed input")
	}

	var me *MalformedError
	if errors.As(err, &me) && me.Path != "features[1].geometry" {
		t.Errorf("Expected path features[1].geometry, got %s", me.Path)
	}
}

func TestExtractLayerFeaturesNotArray(t *testing.T) {
	_, err := quietExtractor(t).ExtractLayer(mustParse(t, `{"features": {}}`), identityContext)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed, got %v", err)
	}
}

func TestExtractLayerIdempotent(t *testing.T) {
	doc := []byte(`{"features": [
		{"properties": {"height": 3}, "geometry": {"type": "MultiLineString", "coordinates": [[[-73.98, 40.75], [-73.98, 40.75], [-73.97, 40.76]]]}},
		{"properties": {"min_height": 1}, "geometry": {"type": "MultiPoint", "coordinates": [[-73.98, 40.75], [-73.97, 40.76]]}}
	]}`)
	tc := NewTileContext(tileAt(-73.98, 40.75, 14), DefaultExtent)
	e := quietExtractor(t)

	first, err := e.ExtractDocument(doc, tc)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := e.ExtractDocument(doc, tc)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Expected repeated extraction to yield identical layers")
	}
}

func TestFeatureGeometry(t *testing.T) {
	f := NewFeature()
	if f.Geometry() != nil {
		t.Error("Expected nil geometry for unknown type")
	}

	f.GeometryType = GeometryLines
	f.Lines = []orb.LineString{{{0, 0}, {1, 1}}}
	if _, ok := f.Geometry().(orb.MultiLineString); !ok {
		t.Errorf("Expected MultiLineString, got %T", f.Geometry())
	}
}

func TestNewExtractorWithOptionsInvalid(t *testing.T) {
	_, err := NewExtractorWithOptions(&ExtractOptions{NumericProperties: []string{"height", ""}})
	if err == nil {
		t.Error("Expected error for empty property key")
	}
}

// abs is a helper for floating point comparison
func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
